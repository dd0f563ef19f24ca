package variant

import "github.com/kluzzebass/treeserve/internal/pool"

// Clone copies src (backed by srcPool) into a new Variant backed by
// dstPool. A same-pool clone just increments string refcounts; a cross-pool
// clone re-interns strings and recursively copies containers (§4.1 Clone).
func Clone(srcPool *pool.Pool, src *V, dstPool *pool.Pool) V {
	switch src.kind {
	case Null, Bool, Int, Uint, Float, Range, Ptr:
		out := *src
		out.rng = append([]Span(nil), src.rng...)
		return out

	case String:
		if srcPool == dstPool {
			dstPool.Incref(src.str)
			return V{kind: String, str: src.str, strLen: src.strLen}
		}
		s, _, _ := srcPool.Get(src.str)
		h := dstPool.Intern(s)
		return V{kind: String, str: h, strLen: src.strLen}

	case Array:
		out := V{kind: Array, arr: make([]V, len(src.arr))}
		for i := range src.arr {
			out.arr[i] = Clone(srcPool, &src.arr[i], dstPool)
		}
		return out

	case Map:
		out := V{kind: Map, mp: newMapVal(src.mp.Len())}
		src.mp.Iterate(func(e Entry) bool {
			keyBytes, _, _ := srcPool.Get(e.Key)
			destKey := dstPool.Intern(keyBytes)
			cloned := Clone(srcPool, e.Value, dstPool)
			box := new(V)
			*box = cloned
			out.mp.entries[destKey] = box
			out.mp.order = append(out.mp.order, destKey)
			return true
		})
		if src.mp.extra != nil {
			out.mp.extra = &Extra{expiryTS: src.mp.extra.expiryTS, dataValid: src.mp.extra.dataValid}
		}
		return out
	}
	return V{}
}
