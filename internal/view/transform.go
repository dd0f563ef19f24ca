package view

import (
	"fmt"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// TransformStep names one supplemented post-processing step applied to a
// view's output after template reification and before serialization
// (SPEC_FULL.md §5, grounded on original_source's viewxform.cpp).
type TransformStep struct {
	Kind   string // "flatten1" or "rename"
	Key    string // flatten1: map key to flatten, empty = whole result; rename: key to rename
	Target string // rename: the new key name
}

// parseTransforms reads the "transform" definition key: an array of
// single-key step maps, e.g. {"flatten1": "items"} or
// {"rename": {"from": "count", "to": "total"}}.
func parseTransforms(p *pool.Pool, val *variant.V) ([]TransformStep, error) {
	if val.Kind() != variant.Array {
		return nil, ErrTransformShape
	}
	steps := make([]TransformStep, 0, val.Len())
	for i := range val.Elems() {
		elem := val.Elem(i)
		if elem.Kind() != variant.Map || elem.Len() != 1 {
			return nil, fmt.Errorf("%w: step %d", ErrNotSingleKey, i)
		}
		step, err := parseTransformStep(p, elem)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseTransformStep(p *pool.Pool, elem *variant.V) (TransformStep, error) {
	var step TransformStep
	var parseErr error
	elem.MapData().Iterate(func(e variant.Entry) bool {
		kindStr, _, _ := p.Get(e.Key)
		switch kindStr {
		case "flatten1":
			step.Kind = "flatten1"
			if s, ok := e.Value.Str(p); ok {
				step.Key = s
			}
		case "rename":
			step.Kind = "rename"
			if e.Value.Kind() != variant.Map {
				parseErr = fmt.Errorf("rename step must be a map with \"from\"/\"to\"")
				return false
			}
			if h, ok := p.Lookup("from"); ok {
				if b, ok := e.Value.MapData().GetNoFetch(h); ok {
					step.Key, _ = b.Str(p)
				}
			}
			if h, ok := p.Lookup("to"); ok {
				if b, ok := e.Value.MapData().GetNoFetch(h); ok {
					step.Target, _ = b.Str(p)
				}
			}
		default:
			parseErr = fmt.Errorf("%w: %q", ErrUnknownStep, kindStr)
		}
		return false
	})
	if parseErr != nil {
		return TransformStep{}, parseErr
	}
	if step.Kind == "" {
		return TransformStep{}, ErrUnknownStep
	}
	return step, nil
}

// applyTransforms runs every configured step against the reified result,
// in order.
func (v *View) applyTransforms(p *pool.Pool, out *variant.V) error {
	for _, step := range v.transforms {
		switch step.Kind {
		case "flatten1":
			flatten1(p, out, step.Key)
		case "rename":
			renameKey(p, out, step.Key, step.Target)
		}
	}
	return nil
}

// flatten1 collapses a single-element array (the whole result, or the
// value at key if non-empty) down to that element.
func flatten1(p *pool.Pool, out *variant.V, key string) {
	target := out
	if key != "" {
		if out.Kind() != variant.Map {
			return
		}
		h, ok := p.Lookup(key)
		if !ok {
			return
		}
		box, ok := out.MapData().GetNoFetch(h)
		if !ok {
			return
		}
		target = box
	}
	if target.Kind() != variant.Array || target.Len() != 1 {
		return
	}
	elem := *target.Elem(0)
	target.Elems()[0] = variant.V{}
	target.Clear(p)
	*target = elem
}

// renameKey moves the value under from to a new key to, leaving its
// content untouched.
func renameKey(p *pool.Pool, out *variant.V, from, to string) {
	if out.Kind() != variant.Map || from == "" || to == "" {
		return
	}
	h, ok := p.Lookup(from)
	if !ok {
		return
	}
	box, ok := out.MapData().GetNoFetch(h)
	if !ok {
		return
	}
	val := *box
	*box = variant.V{}
	out.MapData().Delete(p, h)
	out.MapData().Put(p, p.Intern(to), val)
}
