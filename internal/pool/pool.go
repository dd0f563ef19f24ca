// Package pool implements the deduplicated, refcounted string storage that
// backs every tree in treeserve. A Pool owns all string bytes a tree's
// variants reference; variants never own bytes directly, only a Handle into
// a Pool.
//
// Pool is not safe for concurrent use on its own; callers serialize access
// through the owning tree's lock (see internal/tree), the same layering the
// teacher uses for its source registry (internal/source/registry.go).
package pool

import "sync"

// Handle identifies an interned string within a single Pool. Handles are
// pool-local: a Handle from one Pool must never be used against another.
// The zero Handle means "none". A dedicated sentinel Handle (see EmptyHandle)
// distinguishes "no string" from "the empty string", since both would
// otherwise collide on a single zero value.
type Handle uint64

// NoHandle is the reserved handle value meaning "no string at all".
const NoHandle Handle = 0

// EmptyHandle is the reserved sentinel for the interned empty string. It is
// chosen far outside the range of handles a running pool can allocate
// sequentially, so it never collides with a live, allocated handle.
const EmptyHandle Handle = ^Handle(0)

type entry struct {
	bytes    string
	refcount int64
}

// Pool is a deduplicated, refcounted string table plus a small fixed-size
// block freelist used for variant-owned array/map backing storage.
type Pool struct {
	mu      sync.Mutex // guards nothing: no method locks it, and Collate/Defrag rely on the caller's lock
	byBytes map[string]Handle
	byRef   map[Handle]*entry
	next    Handle

	blocks blockAllocator
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{
		byBytes: make(map[string]Handle),
		byRef:   make(map[Handle]*entry),
		next:    1,
	}
}

// Intern inserts-or-finds s and increments its refcount. Returns EmptyHandle
// for the empty string without touching any refcount (there is nothing to
// free for it).
func (p *Pool) Intern(s string) Handle {
	if len(s) == 0 {
		return EmptyHandle
	}
	h, ok := p.byBytes[s]
	if !ok {
		h = p.allocate(s)
	}
	p.byRef[h].refcount++
	return h
}

// Inject inserts-or-finds s without touching the refcount. Used during bulk
// rebuilds where the caller will Incref exactly once per stored reference
// afterward (see §4.2: "every path that stores a handle in a Variant must
// subsequently incref once").
func (p *Pool) Inject(s string) Handle {
	if len(s) == 0 {
		return EmptyHandle
	}
	if h, ok := p.byBytes[s]; ok {
		return h
	}
	return p.allocate(s)
}

func (p *Pool) allocate(s string) Handle {
	h := p.next
	p.next++
	p.byBytes[s] = h
	p.byRef[h] = &entry{bytes: s, refcount: 0}
	return h
}

// Incref increments the refcount of an already-interned handle.
func (p *Pool) Incref(h Handle) {
	if h == NoHandle || h == EmptyHandle {
		return
	}
	e, ok := p.byRef[h]
	if !ok {
		return
	}
	e.refcount++
}

// Decref decrements the refcount and frees storage when it hits zero.
func (p *Pool) Decref(h Handle) {
	if h == NoHandle || h == EmptyHandle {
		return
	}
	e, ok := p.byRef[h]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 {
		delete(p.byBytes, e.bytes)
		delete(p.byRef, h)
	}
}

// Lookup finds a handle for s without inserting. The second return is false
// if s is not currently interned.
func (p *Pool) Lookup(s string) (Handle, bool) {
	if len(s) == 0 {
		return EmptyHandle, true
	}
	h, ok := p.byBytes[s]
	return h, ok
}

// Get returns the bytes and length for h. Returns ("", 0, false) for an
// unknown handle.
func (p *Pool) Get(h Handle) (string, int, bool) {
	if h == EmptyHandle {
		return "", 0, true
	}
	if h == NoHandle {
		return "", 0, false
	}
	e, ok := p.byRef[h]
	if !ok {
		return "", 0, false
	}
	return e.bytes, len(e.bytes), true
}

// Refcount reports the current refcount of h, or 0 if unknown.
func (p *Pool) Refcount(h Handle) int64 {
	if h == NoHandle || h == EmptyHandle {
		return 0
	}
	e, ok := p.byRef[h]
	if !ok {
		return 0
	}
	return e.refcount
}

// Live reports the number of distinct live strings in the pool, excluding
// the empty-string sentinel (which has no backing storage to leak).
func (p *Pool) Live() int {
	return len(p.byRef)
}

// CollatedString is one entry of a Collate() snapshot.
type CollatedString struct {
	Handle   Handle
	Bytes    string
	Refcount int64
}

// Collate returns a snapshot of all live strings with their refcounts, used
// by the BJ encoder to build its constants table (§4.5).
func (p *Pool) Collate() []CollatedString {
	out := make([]CollatedString, 0, len(p.byRef))
	for h, e := range p.byRef {
		out = append(out, CollatedString{Handle: h, Bytes: e.bytes, Refcount: e.refcount})
	}
	return out
}

// Defrag is a best-effort compaction hook. The map-backed implementation has
// no fragmentation to repair; it exists so callers can treat Pool uniformly
// with the source's block-allocator-backed implementation.
func (p *Pool) Defrag() {}

// Translate re-interns a string found by h in other into this pool, without
// touching refcounts in either pool. Used for cross-pool clone (§4.1 Clone).
func (p *Pool) Translate(other *Pool, h Handle) Handle {
	if other == p {
		return h
	}
	s, _, ok := other.Get(h)
	if !ok {
		return NoHandle
	}
	return p.Inject(s)
}

// Alloc/Free/Realloc expose the block allocator for variant-owned array and
// map bucket backing storage (§4.2).
func (p *Pool) Alloc(n int) []byte       { return p.blocks.Alloc(n) }
func (p *Pool) Free(b []byte)            { p.blocks.Free(b) }
func (p *Pool) Realloc(b []byte, n int) []byte {
	return p.blocks.Realloc(b, n)
}
