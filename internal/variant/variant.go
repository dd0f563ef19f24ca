// Package variant implements the tagged value type that treeserve trees are
// built from: a sum of JSON-extended scalars and containers, each backed by
// a pool.Pool for string storage. See spec §3.1.
//
// A Variant does not remember which Pool it was built from — the owner must
// call Clear(p) with the correct Pool before a Variant (or anything
// containing one) is dropped, releasing any pooled string refcounts and
// nested containers. This mirrors the source's explicit-clear discipline
// (see DESIGN NOTES, "Pool-parameterized destruction"); Go's GC reclaims the
// Go-level memory regardless, but Clear is still required to keep the
// Pool's refcounts correct.
package variant

import (
	"fmt"
	"math"

	"github.com/kluzzebass/treeserve/internal/pool"
)

// Kind tags the payload a Variant currently holds.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	Uint
	Float
	String
	Array
	Map
	Range
	Ptr
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Map:
		return "map"
	case Range:
		return "range"
	case Ptr:
		return "ptr"
	default:
		return "unknown"
	}
}

// Span is an inclusive numeric range used by Range-kind variants (selector
// literals, see spec §3.1 and the DSL's `range` selection grammar).
type Span struct {
	First, Last int64
}

// Contains reports whether v falls within the inclusive span.
func (s Span) Contains(v int64) bool { return v >= s.First && v <= s.Last }

// V is a tagged value. The zero V is Null. V is a plain Go value; copying it
// shares the underlying array/map backing storage the same way copying a Go
// slice or map header does, which is why every mutator that changes kind
// first releases whatever the Variant previously held via Clear.
type V struct {
	kind Kind

	b   bool
	i   int64
	u   uint64
	f   float64

	str    pool.Handle
	strLen int // authoritative length, recorded redundantly for O(1) access (§3.1)

	arr []V
	mp  *MapVal
	rng []Span
	ptr uint64
}

// Kind returns the tag of v.
func (v *V) Kind() Kind { return v.kind }

// TypeStr returns the human-readable name of v's kind.
func (v *V) TypeStr() string { return v.kind.String() }

// IsContainer reports whether v is an Array or Map.
func (v *V) IsContainer() bool { return v.kind == Array || v.kind == Map }

// IsAtom reports whether v is not a container (includes Null, Ptr, Range).
func (v *V) IsAtom() bool { return !v.IsContainer() }

// IsNull reports whether v is the Null variant.
func (v *V) IsNull() bool { return v.kind == Null }

// --- constructors ---

// NewNull returns the Null variant. Equivalent to the zero value.
func NewNull() V { return V{} }

func NewBool(b bool) V { return V{kind: Bool, b: b} }
func NewInt(i int64) V { return V{kind: Int, i: i} }
func NewUint(u uint64) V { return V{kind: Uint, u: u} }

// NewFloat rejects NaN, matching §3.1's invariant that numeric variants
// never carry NaN silently. Callers that might produce NaN (e.g. 0.0/0.0)
// must check before constructing.
func NewFloat(f float64) (V, error) {
	if math.IsNaN(f) {
		return V{}, fmt.Errorf("variant: NaN is not a representable Float payload")
	}
	return V{kind: Float, f: f}, nil
}

// NewString interns s into p and returns a String variant referencing it.
func NewString(p *pool.Pool, s string) V {
	h := p.Intern(s)
	return V{kind: String, str: h, strLen: len(s)}
}

// NewRange returns a Range variant over the given spans.
func NewRange(spans []Span) V {
	cp := make([]Span, len(spans))
	copy(cp, spans)
	return V{kind: Range, rng: cp}
}

// NewPtr returns an opaque-pointer sentinel variant. It must never survive
// serialization or tree merge (§3.1); callers that encounter one in those
// paths must treat it as a bug.
func NewPtr(payload uint64) V { return V{kind: Ptr, ptr: payload} }

// NewArray returns an empty Array variant with capacity n preallocated.
func NewArray(n int) V {
	var a []V
	if n > 0 {
		a = make([]V, 0, n)
	}
	return V{kind: Array, arr: a}
}

// NewMap returns an empty Map variant with capacity prealloc preallocated.
func NewMap(prealloc int) V {
	return V{kind: Map, mp: newMapVal(prealloc)}
}

// StrHandle returns the pool handle backing a String variant, or
// (pool.NoHandle, false) if v is not a String.
func (v *V) StrHandle() (pool.Handle, bool) {
	if v.kind != String {
		return pool.NoHandle, false
	}
	return v.str, true
}

// StrLen returns the authoritative length of a String variant's content.
func (v *V) StrLen() int { return v.strLen }

// Str resolves a String variant's bytes from p.
func (v *V) Str(p *pool.Pool) (string, bool) {
	if v.kind != String {
		return "", false
	}
	s, _, ok := p.Get(v.str)
	return s, ok
}

// Bool, IntVal, UintVal, FloatVal, PtrVal are raw payload accessors; callers
// must check Kind() first.
func (v *V) Bool() bool       { return v.b }
func (v *V) IntVal() int64    { return v.i }
func (v *V) UintVal() uint64  { return v.u }
func (v *V) FloatVal() float64 { return v.f }
func (v *V) PtrVal() uint64   { return v.ptr }
func (v *V) RangeVal() []Span { return v.rng }

// Len returns the element count for Array/Map variants; empty containers
// report zero regardless of whether backing storage was ever allocated
// (§3.1: "empty containers may use a null pointer with count zero").
func (v *V) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Map:
		if v.mp == nil {
			return 0
		}
		return v.mp.Len()
	default:
		return 0
	}
}

// Elem returns the i'th array element. Panics if v is not an Array or i is
// out of range; callers are expected to check Kind()/Len() first, matching
// the source's unchecked index access in the hot path.
func (v *V) Elem(i int) *V { return &v.arr[i] }

// Elems exposes the backing array slice for iteration.
func (v *V) Elems() []V {
	if v.kind != Array {
		return nil
	}
	return v.arr
}

// AppendElem appends elem to an Array variant in place.
func (v *V) AppendElem(elem V) {
	v.arr = append(v.arr, elem)
}

// MapData returns the backing map structure, or nil if v is not a Map.
func (v *V) MapData() *MapVal {
	if v.kind != Map {
		return nil
	}
	return v.mp
}

// Clear releases every pooled resource v (and, recursively, its contents)
// holds, then resets v to Null. p must be the same Pool the Variant (or, for
// a cross-pool clone, the destination pool of) every contained String was
// interned into. Calling Clear twice is safe (it's a no-op after the first).
func (v *V) Clear(p *pool.Pool) {
	switch v.kind {
	case String:
		p.Decref(v.str)
	case Array:
		for i := range v.arr {
			v.arr[i].Clear(p)
		}
	case Map:
		if v.mp != nil {
			v.mp.clear(p)
		}
	}
	*v = V{}
}
