package variant

import (
	"math"
	"strings"

	"github.com/kluzzebass/treeserve/internal/pool"
)

// FloatTolerance is the deliberate, source-matching absolute tolerance used
// by Eq when comparing Float variants. This is almost certainly too loose
// for general numeric comparisons; it is kept because the source hard-codes
// it (§4.1, DESIGN NOTES "Float equality tolerance") and tests depend on it.
// A caller needing tighter comparisons should compare FloatVal() directly.
const FloatTolerance = 1e-3

// Ordering is the result of a three-way numeric comparison, with an explicit
// "not applicable" state for comparisons between incomparable kinds.
type Ordering int

const (
	OrderLess Ordering = iota
	OrderEqual
	OrderGreater
	OrderNA
)

func isNumeric(k Kind) bool {
	return k == Int || k == Uint || k == Float
}

// numericValue returns a's numeric payload widened to float64 for
// cross-kind comparison, plus whether a is numeric at all.
func numericValue(a *V) (float64, bool) {
	switch a.kind {
	case Int:
		return float64(a.i), true
	case Uint:
		return float64(a.u), true
	case Float:
		return a.f, true
	default:
		return 0, false
	}
}

// Eq reports structural equality of a (in pool pa) and b (in pool pb),
// possibly across different pools. Numeric variants compare by mathematical
// value across Int/Uint/Float; Float comparisons use FloatTolerance.
func Eq(pa *pool.Pool, a *V, pb *pool.Pool, b *V) bool {
	if isNumeric(a.kind) && isNumeric(b.kind) {
		av, _ := numericValue(a)
		bv, _ := numericValue(b)
		if a.kind == Float || b.kind == Float {
			return math.Abs(av-bv) <= FloatTolerance
		}
		return av == bv
	}

	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case String:
		as, _, _ := pa.Get(a.str)
		bs, _, _ := pb.Get(b.str)
		return as == bs
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Eq(pa, &a.arr[i], pb, &b.arr[i]) {
				return false
			}
		}
		return true
	case Map:
		return mapEq(pa, a.mp, pb, b.mp)
	case Range:
		if len(a.rng) != len(b.rng) {
			return false
		}
		for i := range a.rng {
			if a.rng[i] != b.rng[i] {
				return false
			}
		}
		return true
	case Ptr:
		return a.ptr == b.ptr
	}
	return false
}

func mapEq(pa *pool.Pool, a *MapVal, pb *pool.Pool, b *MapVal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Len() != b.Len() {
		return false
	}
	for k, av := range a.entries {
		keyBytes, _, _ := pa.Get(k)
		bk, ok := pb.Lookup(keyBytes)
		if !ok {
			return false
		}
		bv, ok := b.entries[bk]
		if !ok {
			return false
		}
		if !Eq(pa, av, pb, bv) {
			return false
		}
	}
	return true
}

// Compare returns the ordering of a relative to b. Only defined between
// numeric kinds; otherwise returns OrderNA (§4.1 "ordering defined only
// between numeric types").
func Compare(a, b *V) Ordering {
	av, aok := numericValue(a)
	bv, bok := numericValue(b)
	if !aok || !bok {
		return OrderNA
	}
	switch {
	case av < bv:
		return OrderLess
	case av > bv:
		return OrderGreater
	default:
		return OrderEqual
	}
}

// Lt reports whether a < b, numerically. False (not an error) for
// non-numeric operands; callers needing to distinguish "false" from "not
// applicable" should use Compare directly.
func Lt(a, b *V) bool { return Compare(a, b) == OrderLess }

// Gt reports whether a > b, numerically.
func Gt(a, b *V) bool { return Compare(a, b) == OrderGreater }

// Contains reports whether a String variant a's bytes contain substr.
func Contains(p *pool.Pool, a *V, substr string) bool {
	s, ok := a.Str(p)
	return ok && strings.Contains(s, substr)
}

// StartsWith reports whether a String variant a's bytes start with prefix.
func StartsWith(p *pool.Pool, a *V, prefix string) bool {
	s, ok := a.Str(p)
	return ok && strings.HasPrefix(s, prefix)
}

// EndsWith reports whether a String variant a's bytes end with suffix.
func EndsWith(p *pool.Pool, a *V, suffix string) bool {
	s, ok := a.Str(p)
	return ok && strings.HasSuffix(s, suffix)
}

// Exact reports same-kind, same-content, bit-wise numeric equality, deep for
// containers. Used by cache keys (§4.1 "Exact"), where Eq's cross-kind
// numeric tolerance would be too permissive.
func Exact(pa *pool.Pool, a *V, pb *pool.Pool, b *V) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Int:
		return a.i == b.i
	case Uint:
		return a.u == b.u
	case Float:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case String:
		as, _, _ := pa.Get(a.str)
		bs, _, _ := pb.Get(b.str)
		return as == bs
	case Array:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Exact(pa, &a.arr[i], pb, &b.arr[i]) {
				return false
			}
		}
		return true
	case Map:
		if a.mp == nil || b.mp == nil {
			return a.mp == nil && b.mp == nil
		}
		if a.mp.Len() != b.mp.Len() {
			return false
		}
		for k, av := range a.mp.entries {
			keyBytes, _, _ := pa.Get(k)
			bk, ok := pb.Lookup(keyBytes)
			if !ok {
				return false
			}
			bv, ok := b.mp.entries[bk]
			if !ok {
				return false
			}
			if !Exact(pa, av, pb, bv) {
				return false
			}
		}
		return true
	case Range:
		if len(a.rng) != len(b.rng) {
			return false
		}
		for i := range a.rng {
			if a.rng[i] != b.rng[i] {
				return false
			}
		}
		return true
	case Ptr:
		return a.ptr == b.ptr
	}
	return false
}
