package variant

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kluzzebass/treeserve/internal/pool"
)

// PathFlags controls Access's behavior on missing or non-container nodes
// (§4.1 "Subtree access by path").
type PathFlags uint8

const (
	// CREATE instructs Access to create missing intermediate maps/arrays
	// instead of failing.
	CREATE PathFlags = 1 << iota
	// NOFETCH instructs Access not to trigger a Map's fetcher while
	// resolving path segments.
	NOFETCH
)

// ErrNoSuchNode is returned when a path segment cannot be resolved and
// CREATE was not set.
var ErrNoSuchNode = errors.New("variant: no such node")

// ErrNotContainer is returned when a non-container is encountered mid-path
// without CREATE.
var ErrNotContainer = errors.New("variant: path segment requires a container")

// ErrBadArrayIndex is returned for a non-numeric segment against an Array.
var ErrBadArrayIndex = errors.New("variant: non-numeric array index")

// SplitPath splits a path of the form "" | "/a/b/0/c" into its segments.
// The root path "" yields no segments.
func SplitPath(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	trimmed := strings.TrimPrefix(path, "/")
	return strings.Split(trimmed, "/")
}

// Access resolves path against root (backed by p), returning a pointer to
// the located Variant that aliases the tree's own storage — mutations
// through the returned pointer are visible in the tree. See §4.1: Array
// segments must be decimal indices; a non-container encountered mid-path
// fails unless CREATE is set, in which case it's coerced to a Map.
func Access(p *pool.Pool, root *V, path string, flags PathFlags) (*V, error) {
	segs := SplitPath(path)
	cur := root
	for _, seg := range segs {
		next, err := step(p, cur, seg, flags)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func step(p *pool.Pool, cur *V, seg string, flags PathFlags) (*V, error) {
	create := flags&CREATE != 0

	switch cur.kind {
	case Map:
		if cur.mp == nil {
			if !create {
				return nil, ErrNoSuchNode
			}
			cur.mp = newMapVal(0)
		}
		// Look up without inserting into the pool: a key that was never
		// interned can't possibly be a map key, so there is nothing to find
		// and no reason to pollute the pool with a zero-refcount orphan.
		if key, known := p.Lookup(seg); known {
			if flags&NOFETCH != 0 {
				if box, ok := cur.mp.GetNoFetch(key); ok {
					return box, nil
				}
			} else {
				if box, ok := cur.mp.Get(p, key, nil); ok {
					return box, nil
				}
			}
		} else if flags&NOFETCH == 0 && cur.mp.HasExtra() {
			// The key has never been interned but a fetcher might still
			// produce it (e.g. FetchOne keyed on arbitrary external data).
			probe := p.Intern(seg)
			box, ok := cur.mp.Get(p, probe, nil)
			if !ok {
				p.Decref(probe)
			}
			if ok {
				return box, nil
			}
		}
		if !create {
			return nil, ErrNoSuchNode
		}
		return cur.mp.GetOrCreate(p, p.Inject(seg)), nil

	case Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return nil, ErrBadArrayIndex
		}
		if idx >= len(cur.arr) {
			if !create {
				return nil, ErrNoSuchNode
			}
			for len(cur.arr) <= idx {
				cur.arr = append(cur.arr, V{})
			}
		}
		return &cur.arr[idx], nil

	case Null:
		if !create {
			return nil, ErrNoSuchNode
		}
		*cur = NewMap(0)
		return step(p, cur, seg, flags)

	default:
		if !create {
			return nil, ErrNotContainer
		}
		cur.Clear(p)
		*cur = NewMap(0)
		return step(p, cur, seg, flags)
	}
}
