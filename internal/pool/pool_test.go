package pool

import "testing"

func TestInternDedup(t *testing.T) {
	p := New()
	h1 := p.Intern("hello")
	h2 := p.Intern("hello")
	if h1 != h2 {
		t.Fatalf("expected same handle for same bytes, got %v and %v", h1, h2)
	}
	if got := p.Refcount(h1); got != 2 {
		t.Fatalf("expected refcount 2, got %d", got)
	}
}

func TestEmptyStringSentinel(t *testing.T) {
	p := New()
	h := p.Intern("")
	if h != EmptyHandle {
		t.Fatalf("expected EmptyHandle for empty string, got %v", h)
	}
	s, n, ok := p.Get(h)
	if !ok || s != "" || n != 0 {
		t.Fatalf("expected empty string lookup to succeed with zero length, got %q %d %v", s, n, ok)
	}
	if p.Refcount(h) != 0 {
		t.Fatalf("empty handle must never be refcounted")
	}
}

func TestDecrefFreesStorage(t *testing.T) {
	p := New()
	h := p.Intern("gone")
	p.Decref(h)
	if _, _, ok := p.Get(h); ok {
		t.Fatalf("expected storage to be freed after refcount hits zero")
	}
	if p.Live() != 0 {
		t.Fatalf("expected zero live strings after decref to zero, got %d", p.Live())
	}
}

func TestInjectThenIncref(t *testing.T) {
	p := New()
	h := p.Inject("bulk")
	if p.Refcount(h) != 0 {
		t.Fatalf("inject must not touch refcount")
	}
	p.Incref(h)
	if p.Refcount(h) != 1 {
		t.Fatalf("expected refcount 1 after incref, got %d", p.Refcount(h))
	}
}

func TestLookupAbsent(t *testing.T) {
	p := New()
	if _, ok := p.Lookup("nope"); ok {
		t.Fatalf("expected lookup miss for uninterned string")
	}
}

func TestCollateReportsLiveStrings(t *testing.T) {
	p := New()
	p.Intern("a")
	p.Intern("a")
	p.Intern("b")
	coll := p.Collate()
	if len(coll) != 2 {
		t.Fatalf("expected 2 distinct live strings, got %d", len(coll))
	}
	for _, c := range coll {
		if c.Bytes == "a" && c.Refcount != 2 {
			t.Fatalf("expected refcount 2 for 'a', got %d", c.Refcount)
		}
	}
}

func TestTranslateCrossPool(t *testing.T) {
	src := New()
	dst := New()
	h := src.Intern("shared")
	th := dst.Translate(src, h)
	s, _, ok := dst.Get(th)
	if !ok || s != "shared" {
		t.Fatalf("expected translated handle to resolve to 'shared', got %q %v", s, ok)
	}
	if dst.Refcount(th) != 0 {
		t.Fatalf("translate must not touch refcount; caller increfs separately")
	}
}

func TestBlockAllocatorRoundTrip(t *testing.T) {
	p := New()
	buf := p.Alloc(10)
	if len(buf) != 10 {
		t.Fatalf("expected length 10, got %d", len(buf))
	}
	copy(buf, []byte("0123456789"))
	p.Free(buf)
	buf2 := p.Alloc(8)
	if len(buf2) != 8 {
		t.Fatalf("expected length 8, got %d", len(buf2))
	}
}
