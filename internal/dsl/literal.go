package dsl

import (
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// LiteralTable holds every literal a compiled Executable references —
// string/number/bool/null scalars, Range literals for array selection, and
// small rename maps for KEYSEL — each backed by its own pool.Pool so the
// Executable outlives whatever request compiled it (§4.6 "Literals are
// interned into the executable's pool; their indices are stable").
type LiteralTable struct {
	pool  *pool.Pool
	items []variant.V
}

// NewLiteralTable returns an empty table with its own pool.
func NewLiteralTable() *LiteralTable {
	return &LiteralTable{pool: pool.New()}
}

// Pool returns the pool backing this table's string literals.
func (t *LiteralTable) Pool() *pool.Pool { return t.pool }

// Len reports how many literals are currently stored.
func (t *LiteralTable) Len() int { return len(t.items) }

// Add appends v and returns its stable index.
func (t *LiteralTable) Add(v variant.V) int {
	t.items = append(t.items, v)
	return len(t.items) - 1
}

// AddString interns s (deduplicated via the table's pool) and appends a
// String literal, returning its index.
func (t *LiteralTable) AddString(s string) int {
	return t.Add(variant.NewString(t.pool, s))
}

// Get returns the literal at idx, or Null if out of range (defensive:
// malformed bytecode must never index out of bounds in practice, but a
// corrupt Executable should fail soft rather than panic).
func (t *LiteralTable) Get(idx int) *variant.V {
	if idx < 0 || idx >= len(t.items) {
		z := variant.NewNull()
		return &z
	}
	return &t.items[idx]
}

// Truncate drops every literal from idx onward, used to roll back a failed
// parse attempt (§4.6 "Parser invariants").
func (t *LiteralTable) Truncate(idx int) {
	for i := idx; i < len(t.items); i++ {
		t.items[i].Clear(t.pool)
	}
	t.items = t.items[:idx]
}
