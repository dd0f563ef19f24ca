package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/variant"
)

func writeTempJSON(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "source.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func mustHandle(t *testing.T, p *pool.Pool, key string) pool.Handle {
	t.Helper()
	h, ok := p.Lookup(key)
	if !ok {
		t.Fatalf("key %q never interned", key)
	}
	return h
}

func TestParseEntriesLoadAndExec(t *testing.T) {
	p := pool.New()
	list := variant.NewArray(2)

	loadEntry := variant.NewMap(0)
	loadEntry.MapData().Put(p, p.Intern("load"), variant.NewString(p, "/tmp/x.json"))
	loadEntry.MapData().Put(p, p.Intern("every"), variant.NewString(p, "1m30s"))
	list.AppendElem(loadEntry)

	execEntry := variant.NewMap(0)
	args := variant.NewArray(2)
	args.AppendElem(variant.NewString(p, "mytool"))
	args.AppendElem(variant.NewString(p, "--flag"))
	execEntry.MapData().Put(p, p.Intern("exec"), args)
	execEntry.MapData().Put(p, p.Intern("check"), variant.NewBool(true))
	list.AppendElem(execEntry)

	entries, err := ParseEntries(p, &list)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindLoad || entries[0].Args[0] != "/tmp/x.json" {
		t.Fatalf("bad load entry: %+v", entries[0])
	}
	if entries[0].Every != 90*time.Second {
		t.Fatalf("expected 90s, got %v", entries[0].Every)
	}
	if entries[1].Kind != KindExec || len(entries[1].Args) != 2 || !entries[1].Check {
		t.Fatalf("bad exec entry: %+v", entries[1])
	}
}

func TestPullLoadDecodesJSON(t *testing.T) {
	path := writeTempJSON(t, `{"data":{"tag":"widget"}}`)
	p, v, err := pullLoad(path)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer v.Clear(p)
	if v.Kind() != variant.Map {
		t.Fatalf("expected map, got %v", v.Kind())
	}
	data, err := extractData(p, &v)
	if err != nil {
		t.Fatalf("extract data: %v", err)
	}
	box, ok := data.MapData().GetNoFetch(mustHandle(t, p, "tag"))
	if !ok {
		t.Fatalf("missing tag")
	}
	if s, _ := box.Str(p); s != "widget" {
		t.Fatalf("got %q", s)
	}
}

func TestExtractDataRejectsNonMapData(t *testing.T) {
	p := pool.New()
	raw := variant.NewMap(0)
	raw.MapData().Put(p, p.Intern("data"), variant.NewString(p, "nope"))
	defer raw.Clear(p)
	if _, err := extractData(p, &raw); err == nil {
		t.Fatalf("expected error for non-map data")
	}
}

func TestExtractDataRejectsMissingKey(t *testing.T) {
	p := pool.New()
	raw := variant.NewMap(0)
	defer raw.Clear(p)
	if _, err := extractData(p, &raw); err == nil {
		t.Fatalf("expected error for missing data key")
	}
}

func TestIngesterRebuildFullMergesLoadEntries(t *testing.T) {
	pathA := writeTempJSON(t, `{"data":{"a":1}}`)
	pathB := writeTempJSON(t, `{"data":{"b":2}}`)

	tr := tree.New()
	in, err := New(Config{
		Tree: tr,
		Entries: []Entry{
			{Kind: KindLoad, Args: []string{pathA}},
			{Kind: KindLoad, Args: []string{pathB}},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var gotRebuild bool
	in.AddListener(func(p *pool.Pool, root *variant.V) {
		gotRebuild = true
	})

	if err := in.rebuildFull(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !gotRebuild {
		t.Fatalf("expected listener to fire")
	}

	tr.WithRLock(func(p *pool.Pool, root *variant.V) {
		if root.Kind() != variant.Map {
			t.Fatalf("expected populated map root")
		}
		if _, ok := root.MapData().GetNoFetch(mustHandle(t, p, "a")); !ok {
			t.Fatalf("missing merged key a")
		}
		if _, ok := root.MapData().GetNoFetch(mustHandle(t, p, "b")); !ok {
			t.Fatalf("missing merged key b")
		}
	})
}

func TestIngesterRebuildFullAbortsOnFailure(t *testing.T) {
	pathA := writeTempJSON(t, `{"data":{"a":1}}`)

	tr := tree.New()
	in, err := New(Config{
		Tree: tr,
		Entries: []Entry{
			{Kind: KindLoad, Args: []string{pathA}},
			{Kind: KindLoad, Args: []string{"/nonexistent/path/does-not-exist.json"}},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := in.rebuildFull(context.Background()); err == nil {
		t.Fatalf("expected rebuild to abort")
	}

	tr.WithRLock(func(p *pool.Pool, root *variant.V) {
		if root.Kind() != variant.Map || root.Len() != 0 {
			t.Fatalf("expected untouched empty root, got kind=%v len=%d", root.Kind(), root.Len())
		}
	})
}
