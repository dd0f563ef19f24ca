// Package treeop implements structural operations that span more than one
// Variant: merging, walking, and deep comparison of whole subtrees (§4.4).
package treeop

import (
	"errors"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// MergeFlags controls Merge's behavior (§4.4).
type MergeFlags uint8

const (
	// FlagFlat clones each (k, v) from src into dst, overwriting.
	FlagFlat MergeFlags = 0
	// FlagRecursive recurses when both dst[k] and v are Maps; otherwise
	// overwrites.
	FlagRecursive MergeFlags = 1 << (iota - 1)
	// FlagAppendArrays appends cloned elements when both sides are Arrays
	// instead of overwriting.
	FlagAppendArrays
	// FlagNoOverwrite keeps the existing dst[k] when present.
	FlagNoOverwrite
)

// ErrMergeNonMapIntoPopulated is returned when src is not a Map and dst is a
// populated (non-Null) tree (§4.4: "Merging a non-Map into a populated tree
// returns failure").
var ErrMergeNonMapIntoPopulated = errors.New("treeop: cannot merge a non-map value into a populated tree")

// Merge merges src (backed by srcPool) into dst (backed by dstPool), which
// must be a Map unless it is Null, in which case a non-Map src replaces the
// root outright (§4.4). Merge is not atomic across subtrees; callers must
// hold dst's write lock for the duration.
func Merge(srcPool *pool.Pool, src *variant.V, dstPool *pool.Pool, dst *variant.V, flags MergeFlags) error {
	if src.Kind() != variant.Map {
		if dst.Kind() == variant.Null {
			*dst = variant.Clone(srcPool, src, dstPool)
			return nil
		}
		return ErrMergeNonMapIntoPopulated
	}

	if dst.Kind() == variant.Null {
		dst.MakeMap(dstPool, 0)
	}
	if dst.Kind() != variant.Map {
		return ErrMergeNonMapIntoPopulated
	}

	srcMap := src.MapData()
	if srcMap == nil {
		return nil
	}

	var mergeErr error
	srcMap.Iterate(func(e variant.Entry) bool {
		keyBytes, _, _ := srcPool.Get(e.Key)
		dstKey := dstPool.Intern(keyBytes)
		defer dstPool.Decref(dstKey) // balance the probe; Put/mergeInto incref on actual insert

		existing, has := dst.MapData().GetNoFetch(dstKey)

		if has && flags&FlagNoOverwrite != 0 {
			return true
		}

		if has && flags&FlagRecursive != 0 && existing.Kind() == variant.Map && e.Value.Kind() == variant.Map {
			if err := Merge(srcPool, e.Value, dstPool, existing, flags); err != nil {
				mergeErr = err
				return false
			}
			return true
		}

		if has && flags&FlagAppendArrays != 0 && existing.Kind() == variant.Array && e.Value.Kind() == variant.Array {
			for _, elem := range e.Value.Elems() {
				existing.AppendElem(variant.Clone(srcPool, &elem, dstPool))
			}
			return true
		}

		cloned := variant.Clone(srcPool, e.Value, dstPool)
		dst.MapData().Put(dstPool, dstKey, cloned)
		return true
	})
	return mergeErr
}
