package view

import (
	"testing"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

func buildDataTree(t *testing.T) (*pool.Pool, variant.V) {
	t.Helper()
	p := pool.New()
	root := variant.NewMap(0)
	root.MapData().Put(p, p.Intern("tag"), variant.NewString(p, "widget"))
	count := variant.NewArray(2)
	count.AppendElem(variant.NewInt(1))
	count.AppendElem(variant.NewInt(2))
	root.MapData().Put(p, p.Intern("count"), count)
	return p, root
}

func mustPutMap(p *pool.Pool, m *variant.V, key string, val variant.V) {
	m.MapData().Put(p, p.Intern(key), val)
}

func TestLoadBareStringTemplate(t *testing.T) {
	p, root := buildDataTree(t)
	defPool := pool.New()
	def := variant.NewString(defPool, "${~/tag}")

	v := New(nil)
	if err := v.Load(defPool, &def); err != nil {
		t.Fatalf("load: %v", err)
	}

	destPool := pool.New()
	result, err := v.Produce(destPool, p, &root, nil, nil)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	s, ok := result.Str(destPool)
	if !ok || s != "widget" {
		t.Fatalf("got %v (ok=%v), want %q", s, ok, "widget")
	}
	result.Clear(destPool)
}

func TestLoadMapTemplateWithTemporary(t *testing.T) {
	p, root := buildDataTree(t)
	defPool := pool.New()

	def := variant.NewMap(0)
	mustPutMap(defPool, &def, "greeting", variant.NewString(defPool, "hi $who!"))
	result := variant.NewMap(0)
	mustPutMap(defPool, &result, "message", variant.NewString(defPool, "$greeting"))
	mustPutMap(defPool, &result, "tag", variant.NewString(defPool, "${~/tag}"))
	mustPutMap(defPool, &def, "result", result)

	v := New(nil)
	if err := v.Load(defPool, &def); err != nil {
		t.Fatalf("load: %v", err)
	}

	destPool := pool.New()
	who := variant.NewString(destPool, "world")
	out, err := v.Produce(destPool, p, &root, destPool, map[string]*variant.V{"who": &who})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if out.Kind() != variant.Map {
		t.Fatalf("expected a map result, got kind=%v", out.Kind())
	}
	msgH, _ := destPool.Lookup("message")
	msgBox, ok := out.MapData().GetNoFetch(msgH)
	if !ok {
		t.Fatalf("missing message key")
	}
	if s, _ := msgBox.Str(destPool); s != "hi world!" {
		t.Fatalf("got %q, want %q", s, "hi world!")
	}
	out.Clear(destPool)
}

func TestTransformFlatten1(t *testing.T) {
	p, root := buildDataTree(t)
	defPool := pool.New()

	def := variant.NewMap(0)
	// A one-element array template stays an array after reification, so
	// flatten1 is what turns it into the bare element.
	result := variant.NewArray(1)
	result.AppendElem(variant.NewString(defPool, "${~/count[0:0]}"))
	mustPutMap(defPool, &def, "result", result)
	transforms := variant.NewArray(1)
	step := variant.NewMap(0)
	mustPutMap(defPool, &step, "flatten1", variant.NewString(defPool, ""))
	transforms.AppendElem(step)
	mustPutMap(defPool, &def, "transform", transforms)

	v := New(nil)
	if err := v.Load(defPool, &def); err != nil {
		t.Fatalf("load: %v", err)
	}

	destPool := pool.New()
	out, err := v.Produce(destPool, p, &root, nil, nil)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if out.Kind() != variant.Int || out.IntVal() != 1 {
		t.Fatalf("expected flattened int 1, got kind=%v val=%v", out.Kind(), out.IntVal())
	}
	out.Clear(destPool)
}
