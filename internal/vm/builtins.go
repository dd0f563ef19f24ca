package vm

import (
	"strconv"
	"strings"

	"github.com/kluzzebass/treeserve/internal/variant"
)

// builtin implements one CALLFN target (§4.7 "Built-in functions").
type builtin func(vm *VM, args []*StackFrame) (*StackFrame, error)

var builtins = map[string]builtin{
	"unpack":  builtinUnpack,
	"toint":   builtinToInt,
	"compact": builtinCompact,
	"array":   builtinArray,
	"map":     builtinMap,
	"keys":    builtinKeys,
}

// callFn dispatches a CALLFN instruction. Parameter frames are always
// consumed: on return, either their memory was adopted into the result
// frame or it was cloned out and the frame discarded.
func (vm *VM) callFn(name string, args []*StackFrame) (*StackFrame, error) {
	fn, ok := builtins[name]
	if !ok {
		for _, a := range args {
			a.Clear()
		}
		return nil, ErrUnknownFunc
	}
	return fn(vm, args)
}

// builtinUnpack flattens one level: each Array/Map ref is replaced by refs
// to its own children; anything else passes through unchanged.
func builtinUnpack(vm *VM, args []*StackFrame) (*StackFrame, error) {
	if len(args) != 1 {
		return nil, ErrBadFuncArgs
	}
	in := args[0]
	out := NewFrame()
	for _, r := range in.refs {
		switch r.ptr.Kind() {
		case variant.Array:
			for i := range r.ptr.Elems() {
				out.refs = append(out.refs, ref{pool: r.pool, ptr: r.ptr.Elem(i)})
			}
		case variant.Map:
			r.ptr.MapData().Iterate(func(e variant.Entry) bool {
				keyStr, _, _ := r.pool.Get(e.Key)
				out.refs = append(out.refs, ref{pool: r.pool, ptr: e.Value, keyStr: keyStr, hasKey: true})
				return true
			})
		default:
			out.refs = append(out.refs, r)
		}
	}
	out.AdoptStore(in)
	return out, nil
}

// builtinToInt coerces each ref to an Int variant; entries that cannot be
// coerced are dropped rather than erroring, matching compact's
// drop-on-mismatch texture.
func builtinToInt(vm *VM, args []*StackFrame) (*StackFrame, error) {
	if len(args) != 1 {
		return nil, ErrBadFuncArgs
	}
	in := args[0]
	out := NewFrame()
	for _, r := range in.refs {
		var iv int64
		switch r.ptr.Kind() {
		case variant.Int:
			iv = r.ptr.IntVal()
		case variant.Uint:
			iv = int64(r.ptr.UintVal())
		case variant.Float:
			iv = int64(r.ptr.FloatVal())
		case variant.String:
			s, _ := r.ptr.Str(r.pool)
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				continue
			}
			iv = n
		default:
			continue
		}
		out.AddRel(vm.vmPool, variant.NewInt(iv), r.keyStr, r.hasKey)
	}
	out.MakeAbs()
	out.AdoptStore(in)
	return out, nil
}

// builtinCompact drops Null refs.
func builtinCompact(vm *VM, args []*StackFrame) (*StackFrame, error) {
	if len(args) != 1 {
		return nil, ErrBadFuncArgs
	}
	in := args[0]
	out := NewFrame()
	for _, r := range in.refs {
		if r.ptr.Kind() == variant.Null {
			continue
		}
		out.refs = append(out.refs, r)
	}
	out.AdoptStore(in)
	return out, nil
}

// builtinArray repacks every ref across every argument frame into one new
// Array variant, in argument order.
func builtinArray(vm *VM, args []*StackFrame) (*StackFrame, error) {
	total := 0
	for _, a := range args {
		total += len(a.refs)
	}
	arr := variant.NewArray(total)
	for _, a := range args {
		for _, r := range a.refs {
			arr.AppendElem(variant.Clone(r.pool, r.ptr, vm.vmPool))
		}
	}
	out := NewFrame()
	out.AddRel(vm.vmPool, arr, "", false)
	out.MakeAbs()
	for _, a := range args {
		out.AdoptStore(a)
	}
	return out, nil
}

// builtinMap repacks every keyed ref across every argument frame into one
// new Map variant; refs with no recorded key are dropped (§4.7 "map...
// drop entries without keys").
func builtinMap(vm *VM, args []*StackFrame) (*StackFrame, error) {
	result := variant.NewMap(0)
	for _, a := range args {
		for _, r := range a.refs {
			if !r.hasKey {
				continue
			}
			cloned := variant.Clone(r.pool, r.ptr, vm.vmPool)
			result.MapData().Put(vm.vmPool, vm.vmPool.Intern(r.keyStr), cloned)
		}
	}
	out := NewFrame()
	out.AddRel(vm.vmPool, result, "", false)
	out.MakeAbs()
	for _, a := range args {
		out.AdoptStore(a)
	}
	return out, nil
}

// builtinKeys emits each ref's key (or, for a Map ref, each of its
// entries' keys) as a String.
func builtinKeys(vm *VM, args []*StackFrame) (*StackFrame, error) {
	if len(args) != 1 {
		return nil, ErrBadFuncArgs
	}
	in := args[0]
	out := NewFrame()
	for _, r := range in.refs {
		if r.ptr.Kind() == variant.Map {
			r.ptr.MapData().Iterate(func(e variant.Entry) bool {
				ks, _, _ := r.pool.Get(e.Key)
				out.AddRel(vm.vmPool, variant.NewString(vm.vmPool, ks), "", false)
				return true
			})
			continue
		}
		if r.hasKey {
			out.AddRel(vm.vmPool, variant.NewString(vm.vmPool, r.keyStr), "", false)
		}
	}
	out.MakeAbs()
	out.AdoptStore(in)
	return out, nil
}
