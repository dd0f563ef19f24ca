// Package tree provides Tree, the root container that owns a string pool,
// a root Variant (an empty Map at construction), and a reader/writer lock
// coordinating access to both (§3.3).
package tree

import (
	"sync"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// Tree owns a string pool and a root Variant. All Variants stored in it
// borrow from its pool; a Variant moved into a different Tree must be
// cloned through the destination pool (handles are pool-local, §3.3).
type Tree struct {
	mu   sync.RWMutex
	pool *pool.Pool
	root variant.V
}

// New creates a Tree with an empty Map root.
func New() *Tree {
	p := pool.New()
	return &Tree{
		pool: p,
		root: variant.NewMap(0),
	}
}

// Pool returns the tree's string pool. Callers must hold the tree's lock
// (via RLock/Lock, or a method below) for the duration of any access that
// reads or writes through handles obtained from it.
func (t *Tree) Pool() *pool.Pool { return t.pool }

// RLock/RUnlock/Lock/Unlock expose the tree's lock directly for callers
// that need to hold it across a sequence of operations (e.g. a view
// execution reading a consistent snapshot, §5 "Ordering").
func (t *Tree) RLock()   { t.mu.RLock() }
func (t *Tree) RUnlock() { t.mu.RUnlock() }
func (t *Tree) Lock()    { t.mu.Lock() }
func (t *Tree) Unlock()  { t.mu.Unlock() }

// Root returns a pointer to the tree's root Variant. Callers must hold the
// appropriate lock.
func (t *Tree) Root() *variant.V { return &t.root }

// WithRLock runs fn with the tree's read lock held, passing the pool and
// root for convenience.
func (t *Tree) WithRLock(fn func(p *pool.Pool, root *variant.V)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.pool, &t.root)
}

// WithLock runs fn with the tree's write lock held.
func (t *Tree) WithLock(fn func(p *pool.Pool, root *variant.V)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.pool, &t.root)
}

// Get resolves path against the tree under a read lock and returns a deep
// clone of the result (backed by a fresh, caller-owned pool) so the caller
// can use it after releasing the lock. Returns ErrNoSuchNode-family errors
// from the variant package on failure.
func (t *Tree) Get(path string, flags variant.PathFlags) (*pool.Pool, variant.V, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, err := variant.Access(t.pool, &t.root, path, flags&^variant.CREATE)
	if err != nil {
		return nil, variant.V{}, err
	}
	dst := pool.New()
	return dst, variant.Clone(t.pool, v, dst), nil
}

// GetSubtree resolves path and returns the live pointer (the pool stays the
// tree's own), for callers that already hold the appropriate lock themselves (e.g.
// the VM, which runs under the caller's read lock for the whole request).
func (t *Tree) GetSubtree(path string, flags variant.PathFlags) (*variant.V, error) {
	return variant.Access(t.pool, &t.root, path, flags)
}
