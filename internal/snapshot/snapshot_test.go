package snapshot

import (
	"errors"
	"os"
	"testing"

	"github.com/kluzzebass/treeserve/internal/format"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/variant"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	src := tree.New()
	src.WithLock(func(p *pool.Pool, root *variant.V) {
		root.MapData().Put(p, p.Intern("tag"), variant.NewString(p, "widget"))
		root.MapData().Put(p, p.Intern("count"), variant.NewInt(3))
	})

	if err := Save(src, dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := tree.New()
	if err := Load(dst, dir); err != nil {
		t.Fatalf("load: %v", err)
	}

	dst.WithRLock(func(p *pool.Pool, root *variant.V) {
		if root.Kind() != variant.Map {
			t.Fatalf("expected map root, got %v", root.Kind())
		}
		h, ok := p.Lookup("tag")
		if !ok {
			t.Fatalf("key %q never interned", "tag")
		}
		box, ok := root.MapData().GetNoFetch(h)
		if !ok {
			t.Fatalf("missing tag key after round trip")
		}
		if s, _ := box.Str(p); s != "widget" {
			t.Fatalf("got %q, want %q", s, "widget")
		}
	})
}

func TestLoadMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	dst := tree.New()
	if err := Load(dst, dir); err == nil {
		t.Fatalf("expected error loading nonexistent snapshot")
	}
}

func TestLoadRejectsBadSignature(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/"+fileName, []byte{'x', format.TypeTreeSnapshot, version, 0}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	dst := tree.New()
	err := Load(dst, dir)
	if !errors.Is(err, format.ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestLoadRejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	src := tree.New()
	if err := Save(src, dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	path := dir + "/" + fileName
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	data[2] = version + 1 // corrupt the version byte
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	dst := tree.New()
	if err := Load(dst, dir); !errors.Is(err, format.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}
