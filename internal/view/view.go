// Package view implements View definitions (§4.9): a compiled Executable,
// a set of named temporary variables, and a result template whose string
// leaves have each been compiled into an entry point and replaced by an
// opaque-pointer placeholder. Grounded on the teacher's internal/query
// package for the "compiled plan + per-request execution" split, and on
// original_source/src/view/view.cpp for the load/produce lifecycle this
// generalizes (the original's load walks a definition map picking out a
// "result" key against named temporaries; produceResult clones the
// template, runs the VM at each entry point, and reifies 0/1/N results).
package view

import (
	"fmt"
	"log/slog"

	"github.com/kluzzebass/treeserve/internal/dsl"
	"github.com/kluzzebass/treeserve/internal/logging"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
	"github.com/kluzzebass/treeserve/internal/vm"
)

// View owns one compiled Executable, the entry points backing its named
// temporary variables, a result template (its own clone, with every
// compiled string replaced by a Ptr placeholder carrying that string's
// entry-point index), and any supplemented post-processing steps
// (SPEC_FULL.md §5).
type View struct {
	pool       *pool.Pool
	log        *slog.Logger
	exe        *dsl.Executable
	vars       map[string]int // temporary name -> entry-point instruction index
	template   variant.V
	transforms []TransformStep
}

// New returns an empty View ready for Load. logger may be nil, in which
// case warnings (e.g. a template with no compileable strings) are
// discarded (internal/logging's dependency-injection convention).
func New(logger *slog.Logger) *View {
	return &View{
		pool: pool.New(),
		log:  logging.Default(logger),
		exe:  dsl.NewExecutable(),
		vars: make(map[string]int),
	}
}

// Pool returns the pool backing the View's own template and literal
// storage.
func (v *View) Pool() *pool.Pool { return v.pool }

// Close releases the View's result template. The View must not be used
// afterward.
func (v *View) Close() {
	v.template.Clear(v.pool)
}

// Load parses a view definition (§4.9): either a non-Map value, which is
// itself the template, or a Map with a "result" key (the output template;
// a Map without one fails with ErrNoResult) and an optional "transform"
// key (SPEC_FULL.md §5 steps), with
// every other key compiled as a named temporary variable available to
// "result" (and to other temporaries) via $name.
func (v *View) Load(defPool *pool.Pool, def *variant.V) error {
	if def.Kind() != variant.Map {
		return v.loadTemplate(defPool, def)
	}

	var entries []variant.Entry
	def.MapData().Iterate(func(e variant.Entry) bool {
		entries = append(entries, e)
		return true
	})

	var result *variant.V
	var transformVal *variant.V
	for _, e := range entries {
		keyStr, _, _ := defPool.Get(e.Key)
		switch keyStr {
		case "result":
			result = e.Value
		case "transform":
			transformVal = e.Value
		default:
			ip, err := v.compileNamed(defPool, keyStr, e.Value)
			if err != nil {
				return fmt.Errorf("view: temporary %q: %w", keyStr, err)
			}
			v.vars[keyStr] = ip
		}
	}

	if transformVal != nil {
		steps, err := parseTransforms(defPool, transformVal)
		if err != nil {
			return err
		}
		v.transforms = steps
	}

	if result == nil {
		return ErrNoResult
	}
	return v.loadTemplate(defPool, result)
}

func (v *View) compileNamed(p *pool.Pool, name string, val *variant.V) (int, error) {
	src, ok := val.Str(p)
	if !ok {
		return 0, fmt.Errorf("key is not a string value")
	}
	return v.exe.Compile(src)
}

func (v *View) loadTemplate(p *pool.Pool, src *variant.V) error {
	tmpl, compiled, err := v.compileTemplate(p, src)
	if err != nil {
		return err
	}
	if !compiled {
		v.log.Warn("view template has no compileable strings; result will be constant")
	}
	v.template = tmpl
	return nil
}

// compileTemplate walks src recursively, compiling every String leaf into
// its own entry point and replacing it with a Ptr placeholder carrying
// the entry-point index; everything else is cloned as-is into the View's
// pool. Reports whether at least one leaf was compiled.
func (v *View) compileTemplate(p *pool.Pool, src *variant.V) (variant.V, bool, error) {
	switch src.Kind() {
	case variant.String:
		s, _ := src.Str(p)
		ip, err := v.exe.Compile(s)
		if err != nil {
			return variant.V{}, false, err
		}
		return variant.NewPtr(uint64(ip)), true, nil

	case variant.Array:
		out := variant.NewArray(src.Len())
		any := false
		for i := range src.Elems() {
			child, ok, err := v.compileTemplate(p, src.Elem(i))
			if err != nil {
				return variant.V{}, false, err
			}
			any = any || ok
			out.AppendElem(child)
		}
		return out, any, nil

	case variant.Map:
		out := variant.NewMap(src.Len())
		any := false
		var entries []variant.Entry
		src.MapData().Iterate(func(e variant.Entry) bool {
			entries = append(entries, e)
			return true
		})
		for _, e := range entries {
			keyStr, _, _ := p.Get(e.Key)
			child, ok, err := v.compileTemplate(p, e.Value)
			if err != nil {
				return variant.V{}, false, err
			}
			any = any || ok
			out.MapData().Put(v.pool, v.pool.Intern(keyStr), child)
		}
		return out, any, nil

	default:
		return variant.Clone(p, src, v.pool), false, nil
	}
}

// Produce runs this View against one read-locked data tree rooted at
// root (backed by dataPool), producing a result in destPool (§4.9 steps
// 1-5). vars supplies named input variables (e.g. request query
// parameters), backed by varsPool.
func (v *View) Produce(destPool, dataPool *pool.Pool, root *variant.V, varsPool *pool.Pool, vars map[string]*variant.V) (variant.V, error) {
	m := vm.New(v.exe, dataPool, root)
	defer m.Close()

	for name, ip := range v.vars {
		m.BindEntryVar(name, ip)
	}
	for name, val := range vars {
		m.BindVar(name, varsPool, val)
	}

	out := variant.Clone(v.pool, &v.template, destPool)
	if err := v.reify(m, destPool, &out); err != nil {
		out.Clear(destPool)
		return variant.V{}, err
	}
	if err := v.applyTransforms(destPool, &out); err != nil {
		out.Clear(destPool)
		return variant.V{}, err
	}
	return out, nil
}

// reify walks the cloned template in place, replacing every Ptr
// placeholder with the result of running the VM at its entry point
// (§4.9 step 4).
func (v *View) reify(m *vm.VM, destPool *pool.Pool, node *variant.V) error {
	switch node.Kind() {
	case variant.Ptr:
		ip := int(node.PtrVal())
		frame, err := m.Exec(ip)
		if err != nil {
			return fmt.Errorf("view: entry point %d: %w", ip, err)
		}
		replaced := reifyFrame(destPool, frame)
		frame.Clear()
		*node = replaced

	case variant.Array:
		for i := range node.Elems() {
			if err := v.reify(m, destPool, node.Elem(i)); err != nil {
				return err
			}
		}

	case variant.Map:
		var entries []variant.Entry
		node.MapData().Iterate(func(e variant.Entry) bool {
			entries = append(entries, e)
			return true
		})
		for _, e := range entries {
			if err := v.reify(m, destPool, e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// reifyFrame implements §4.9 step 4's 0/1/N result shapes.
func reifyFrame(destPool *pool.Pool, frame *vm.StackFrame) variant.V {
	switch frame.Len() {
	case 0:
		return variant.NewNull()
	case 1:
		return frame.CloneInto(destPool, 0)
	default:
		arr := variant.NewArray(frame.Len())
		for i := 0; i < frame.Len(); i++ {
			arr.AppendElem(frame.CloneInto(destPool, i))
		}
		return arr
	}
}
