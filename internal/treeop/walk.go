package treeop

import (
	"strconv"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// VisitFunc is called for every node during a Walk. path is the JSON-pointer
// style path from the walk's root ("" for the root itself). Returning false
// stops the walk early (and aborts any enclosing Walk call).
type VisitFunc func(path string, v *variant.V) bool

// Walk performs a pre-order structural traversal of v: visit is called for
// v itself, then (if it returned true and v is a container) recursively for
// each element/value, using p to resolve map key names into path segments.
func Walk(p *pool.Pool, v *variant.V, visit VisitFunc) {
	walk(p, "", v, visit)
}

func walk(p *pool.Pool, path string, v *variant.V, visit VisitFunc) bool {
	if !visit(path, v) {
		return false
	}
	switch v.Kind() {
	case variant.Array:
		for i := range v.Elems() {
			childPath := path + "/" + strconv.Itoa(i)
			if !walk(p, childPath, v.Elem(i), visit) {
				return false
			}
		}
	case variant.Map:
		cont := true
		if md := v.MapData(); md != nil {
			md.Iterate(func(e variant.Entry) bool {
				keyBytes, _, _ := p.Get(e.Key)
				childPath := path + "/" + keyBytes
				if !walk(p, childPath, e.Value, visit) {
					cont = false
					return false
				}
				return true
			})
		}
		return cont
	}
	return true
}
