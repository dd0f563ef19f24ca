// Package vm implements the stack-machine query VM (§4.7–4.8): it runs the
// bytecode internal/dsl compiles, against a read-locked data tree, producing
// result values for a View's template. Grounded on the teacher's
// internal/query package (eval.go's value-stack evaluation style,
// plan.go's "compile once, evaluate many" split) generalized from
// gastrolog's log-search query language to treeserve's tree-shaped query
// DSL.
package vm

import (
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// ref is a lightweight, possibly-borrowed view of one Variant (§4.7:
// "a ref's pointer is relative to its store or absolute into the source
// tree"). Until make_abs runs, relIdx names a pending index into the
// owning frame's store instead of a stable pointer, since further add_rel
// calls may still reallocate store.
type ref struct {
	pool   *pool.Pool
	ptr    *variant.V
	relIdx int // -1 once absolutified
	keyStr string
	hasKey bool
}

// ownedStore is a store a frame has adopted from another frame it consumed
// (§4.8: ownership of produced values moves with the refs that back them).
type ownedStore struct {
	pool *pool.Pool
	vals []variant.V
}

// StackFrame holds the refs currently "on the stack" at one level, plus any
// owned values those refs were produced from (§4.7, §4.8).
type StackFrame struct {
	refs      []ref
	store     []variant.V
	storePool *pool.Pool // pool owning store's entries, if any
	adopted   []ownedStore
}

// NewFrame returns an empty frame.
func NewFrame() *StackFrame { return &StackFrame{} }

// Reserve pre-grows store's capacity so a subsequent run of AddAbs calls
// cannot trigger a reallocation that would invalidate pointers already
// handed out (§4.8: "add_abs requires store to have pre-reserved
// capacity").
func (f *StackFrame) Reserve(n int) {
	if cap(f.store)-len(f.store) >= n {
		return
	}
	grown := make([]variant.V, len(f.store), len(f.store)+n)
	copy(grown, f.store)
	f.store = grown
}

// AddRel appends v to store and records a ref whose pointer is deferred
// until MakeAbs runs (§4.8 add_rel).
func (f *StackFrame) AddRel(p *pool.Pool, v variant.V, key string, hasKey bool) {
	f.storePool = p
	f.store = append(f.store, v)
	f.refs = append(f.refs, ref{pool: p, relIdx: len(f.store) - 1, keyStr: key, hasKey: hasKey})
}

// AddAbs appends v to store (which must have pre-reserved capacity via
// Reserve) and records a real pointer immediately (§4.8 add_abs).
func (f *StackFrame) AddAbs(p *pool.Pool, v variant.V, key string, hasKey bool) {
	f.storePool = p
	f.store = append(f.store, v)
	ptr := &f.store[len(f.store)-1]
	f.refs = append(f.refs, ref{pool: p, ptr: ptr, relIdx: -1, keyStr: key, hasKey: hasKey})
}

// AddBorrowed records a ref into memory this frame does not own (a data
// tree node, or another frame's already-absolutified value).
func (f *StackFrame) AddBorrowed(p *pool.Pool, v *variant.V, key string, hasKey bool) {
	f.refs = append(f.refs, ref{pool: p, ptr: v, relIdx: -1, keyStr: key, hasKey: hasKey})
}

// MakeAbs rewrites every pending relative ref into a real pointer, once
// store is stable (§4.8 make_abs). Must be called before the frame is read
// from or before another frame starts borrowing its refs.
func (f *StackFrame) MakeAbs() {
	for i := range f.refs {
		if f.refs[i].ptr == nil && f.refs[i].relIdx >= 0 {
			f.refs[i].ptr = &f.store[f.refs[i].relIdx]
			f.refs[i].relIdx = -1
		}
	}
}

// Len reports how many refs this frame currently holds.
func (f *StackFrame) Len() int { return len(f.refs) }

// CloneInto copies the i'th ref's value into dst, independent of whatever
// pool or frame it was borrowed from. Used by internal/view to lift a
// result frame's values into a request's destination pool once reading is
// done (§4.9 step 4).
func (f *StackFrame) CloneInto(dst *pool.Pool, i int) variant.V {
	r := f.refs[i]
	return variant.Clone(r.pool, r.ptr, dst)
}

// AdoptStore transfers ownership of from's owned store(s) onto f, so a
// later Clear on f also releases storage from produced. Used when an
// opcode repacks from's refs into a new frame without copying the
// underlying values it already points at: the data keeps living, but
// responsibility for freeing it moves to the frame that now holds the
// only refs into it. from is left holding no store of its own.
func (f *StackFrame) AdoptStore(from *StackFrame) {
	if from.storePool != nil {
		f.adopted = append(f.adopted, ownedStore{pool: from.storePool, vals: from.store})
		from.store = nil
		from.storePool = nil
	}
	if len(from.adopted) > 0 {
		f.adopted = append(f.adopted, from.adopted...)
		from.adopted = nil
	}
}

// Clear releases every pooled resource this frame's owned (or adopted)
// store holds. Borrowed refs (into the data tree or another live frame)
// are left untouched.
func (f *StackFrame) Clear() {
	if f.storePool != nil {
		for i := range f.store {
			f.store[i].Clear(f.storePool)
		}
	}
	for _, o := range f.adopted {
		for i := range o.vals {
			o.vals[i].Clear(o.pool)
		}
	}
	f.store = nil
	f.refs = nil
	f.storePool = nil
	f.adopted = nil
}
