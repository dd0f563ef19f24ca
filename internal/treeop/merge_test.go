package treeop

import (
	"testing"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

func buildMap(p *pool.Pool, kv map[string]string) variant.V {
	m := variant.NewMap(len(kv))
	for k, v := range kv {
		m.MapData().Put(p, p.Intern(k), variant.NewString(p, v))
	}
	return m
}

func strAt(t *testing.T, p *pool.Pool, v *variant.V, key string) string {
	t.Helper()
	h, ok := p.Lookup(key)
	if !ok {
		t.Fatalf("key %q never interned", key)
	}
	box, ok := v.MapData().GetNoFetch(h)
	if !ok {
		t.Fatalf("key %q not found", key)
	}
	s, _ := box.Str(p)
	return s
}

func TestMergeFlatOverwrites(t *testing.T) {
	p := pool.New()
	d := buildMap(p, map[string]string{"a": "1"})
	s := buildMap(p, map[string]string{"a": "2", "b": "3"})

	if err := Merge(p, &s, p, &d, FlagFlat); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := strAt(t, p, &d, "a"); got != "2" {
		t.Fatalf("expected overwritten a=2, got %q", got)
	}
	if got := strAt(t, p, &d, "b"); got != "3" {
		t.Fatalf("expected new b=3, got %q", got)
	}
}

func TestMergeEmptyIsIdentity(t *testing.T) {
	p := pool.New()
	d := buildMap(p, map[string]string{"a": "1"})
	empty := variant.NewMap(0)

	if err := Merge(p, &empty, p, &d, FlagFlat); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := strAt(t, p, &d, "a"); got != "1" {
		t.Fatalf("merge(D, empty, FLAT) must be identity, got a=%q", got)
	}
}

func TestMergeNoOverwritePreservesExisting(t *testing.T) {
	p := pool.New()
	d := buildMap(p, map[string]string{"a": "1"})
	s := buildMap(p, map[string]string{"a": "2", "b": "3"})

	if err := Merge(p, &s, p, &d, FlagNoOverwrite); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := strAt(t, p, &d, "a"); got != "1" {
		t.Fatalf("expected preserved a=1, got %q", got)
	}
	if got := strAt(t, p, &d, "b"); got != "3" {
		t.Fatalf("expected new key b=3 to still be added, got %q", got)
	}
}

func TestMergeRecursiveDescendsIntoMaps(t *testing.T) {
	p := pool.New()
	d := variant.NewMap(0)
	inner := buildMap(p, map[string]string{"x": "1"})
	d.MapData().Put(p, p.Intern("child"), inner)

	sInner := buildMap(p, map[string]string{"y": "2"})
	s := variant.NewMap(0)
	s.MapData().Put(p, p.Intern("child"), sInner)

	if err := Merge(p, &s, p, &d, FlagRecursive); err != nil {
		t.Fatalf("merge: %v", err)
	}

	childBox, ok := d.MapData().GetNoFetch(mustLookup(t, p, "child"))
	if !ok {
		t.Fatalf("child missing")
	}
	if got := strAt(t, p, childBox, "x"); got != "1" {
		t.Fatalf("expected original x=1 preserved under recursive merge, got %q", got)
	}
	if got := strAt(t, p, childBox, "y"); got != "2" {
		t.Fatalf("expected merged y=2 under recursive merge, got %q", got)
	}
}

func TestMergeAppendArrays(t *testing.T) {
	p := pool.New()
	d := variant.NewMap(0)
	dArr := variant.NewArray(2)
	dArr.AppendElem(variant.NewInt(1))
	dArr.AppendElem(variant.NewInt(2))
	d.MapData().Put(p, p.Intern("tags"), dArr)

	s := variant.NewMap(0)
	sArr := variant.NewArray(2)
	sArr.AppendElem(variant.NewInt(3))
	sArr.AppendElem(variant.NewInt(4))
	s.MapData().Put(p, p.Intern("tags"), sArr)

	if err := Merge(p, &s, p, &d, FlagAppendArrays); err != nil {
		t.Fatalf("merge: %v", err)
	}

	tags, ok := d.MapData().GetNoFetch(mustLookup(t, p, "tags"))
	if !ok {
		t.Fatalf("tags missing")
	}
	if tags.Kind() != variant.Array || tags.Len() != 4 {
		t.Fatalf("expected appended array of len 4, got kind=%v len=%d", tags.Kind(), tags.Len())
	}
	for i, want := range []int64{1, 2, 3, 4} {
		if got := tags.Elem(i).IntVal(); got != want {
			t.Fatalf("tags[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestMergeAppendArraysFallsBackToOverwriteOnKindMismatch(t *testing.T) {
	p := pool.New()
	d := buildMap(p, map[string]string{"tags": "not-an-array"})
	s := variant.NewMap(0)
	sArr := variant.NewArray(1)
	sArr.AppendElem(variant.NewInt(1))
	s.MapData().Put(p, p.Intern("tags"), sArr)

	if err := Merge(p, &s, p, &d, FlagAppendArrays); err != nil {
		t.Fatalf("merge: %v", err)
	}

	tags, ok := d.MapData().GetNoFetch(mustLookup(t, p, "tags"))
	if !ok {
		t.Fatalf("tags missing")
	}
	if tags.Kind() != variant.Array || tags.Len() != 1 {
		t.Fatalf("expected overwrite by new array, got kind=%v len=%d", tags.Kind(), tags.Len())
	}
}

func TestMergeNonMapIntoPopulatedFails(t *testing.T) {
	p := pool.New()
	d := buildMap(p, map[string]string{"a": "1"})
	arr := variant.NewArray(3)
	arr.AppendElem(variant.NewInt(1))
	arr.AppendElem(variant.NewInt(2))
	arr.AppendElem(variant.NewInt(3))

	err := Merge(p, &arr, p, &d, FlagFlat)
	if err != ErrMergeNonMapIntoPopulated {
		t.Fatalf("expected ErrMergeNonMapIntoPopulated, got %v", err)
	}
	if got := strAt(t, p, &d, "a"); got != "1" {
		t.Fatalf("tree must be unchanged after failed merge, got a=%q", got)
	}
}

func TestMergeNonMapIntoNullRootReplaces(t *testing.T) {
	p := pool.New()
	d := variant.NewNull()
	arr := variant.NewArray(2)
	arr.AppendElem(variant.NewInt(1))
	arr.AppendElem(variant.NewInt(2))

	if err := Merge(p, &arr, p, &d, FlagFlat); err != nil {
		t.Fatalf("merge into null root should succeed: %v", err)
	}
	if d.Kind() != variant.Array || d.Len() != 2 {
		t.Fatalf("expected root replaced by array of len 2, got kind=%v len=%d", d.Kind(), d.Len())
	}
}

func mustLookup(t *testing.T, p *pool.Pool, key string) pool.Handle {
	t.Helper()
	h, ok := p.Lookup(key)
	if !ok {
		t.Fatalf("key %q never interned", key)
	}
	return h
}

func TestWalkVisitsAllNodes(t *testing.T) {
	p := pool.New()
	root := variant.NewMap(0)
	root.MapData().Put(p, p.Intern("a"), variant.NewInt(1))
	arr := variant.NewArray(2)
	arr.AppendElem(variant.NewInt(10))
	arr.AppendElem(variant.NewInt(20))
	root.MapData().Put(p, p.Intern("list"), arr)

	var paths []string
	Walk(p, &root, func(path string, v *variant.V) bool {
		paths = append(paths, path)
		return true
	})

	want := map[string]bool{"": true, "/a": true, "/list": true, "/list/0": true, "/list/1": true}
	if len(paths) != len(want) {
		t.Fatalf("expected %d visited nodes, got %d: %v", len(want), len(paths), paths)
	}
	for _, p := range paths {
		if !want[p] {
			t.Fatalf("unexpected path %q visited", p)
		}
	}
}
