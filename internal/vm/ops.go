package vm

import (
	"strconv"
	"strings"

	"github.com/kluzzebass/treeserve/internal/dsl"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// step executes the single instruction at ip and returns the next
// instruction index to run (almost always ip+1; opcodes never branch).
func (vm *VM) step(ip int, cmd dsl.Cmd) (int, error) {
	switch cmd.Op {
	case dsl.OpLiteral:
		out := NewFrame()
		out.refs = append(out.refs, ref{pool: vm.vmPool, ptr: &vm.lits[cmd.Param]})
		vm.push(out)

	case dsl.OpDup:
		idx := len(vm.stack) - 1 - cmd.Param
		if idx < 0 {
			return 0, ErrStackUnderflow
		}
		src := vm.stack[idx]
		out := NewFrame()
		out.refs = append(out.refs, src.refs...)
		vm.push(out)

	case dsl.OpPushRoot:
		vm.pushRoot()

	case dsl.OpPop:
		f, err := vm.pop()
		if err != nil {
			return 0, err
		}
		f.Clear()

	case dsl.OpGetVar:
		name, _ := vm.lits[cmd.Param].Str(vm.vmPool)
		out, err := vm.getVar(name)
		if err != nil {
			return 0, err
		}
		vm.push(out)

	case dsl.OpLookup:
		key, _ := vm.lits[cmd.Param].Str(vm.vmPool)
		obj, err := vm.pop()
		if err != nil {
			return 0, err
		}
		out := NewFrame()
		for _, r := range obj.refs {
			present, v, p := lookupSubkey(r.pool, r.ptr, key)
			if present {
				out.refs = append(out.refs, ref{pool: p, ptr: v})
			}
		}
		out.AdoptStore(obj)
		vm.push(out)

	case dsl.OpCheckKey:
		keyStr, _ := vm.lits[cmd.Param].Str(vm.vmPool)
		rhs := &vm.lits[cmd.Param2]
		obj, err := vm.pop()
		if err != nil {
			return 0, err
		}
		out, err := vm.filterEntries(obj, keyStr, func(present bool, p *pool.Pool, v *variant.V) bool {
			res := evalBinOp(cmd.Op2, p, v, present, vm.vmPool, rhs)
			if cmd.Invert {
				res = !res
			}
			return res
		}, cmd.Sel)
		if err != nil {
			return 0, err
		}
		vm.push(out)

	case dsl.OpFilterKey:
		keyStr, _ := vm.lits[cmd.Param].Str(vm.vmPool)
		aFrame, err := vm.pop()
		if err != nil {
			return 0, err
		}
		obj, err := vm.pop()
		if err != nil {
			return 0, err
		}
		out, err := vm.filterEntries(obj, keyStr, func(present bool, p *pool.Pool, v *variant.V) bool {
			for _, ar := range aFrame.refs {
				res := evalBinOp(cmd.Op2, p, v, present, ar.pool, ar.ptr)
				if cmd.Invert {
					res = !res
				}
				if res {
					return true
				}
			}
			return false
		}, cmd.Sel)
		if err != nil {
			return 0, err
		}
		out.AdoptStore(aFrame)
		vm.push(out)

	case dsl.OpKeySel:
		op := dsl.KeySelOp(cmd.Param)
		renameMap := &vm.lits[cmd.Param2]
		out, err := vm.keySel(op, renameMap)
		if err != nil {
			return 0, err
		}
		vm.push(out)

	case dsl.OpSelectLit:
		rng := vm.lits[cmd.Param].RangeVal()
		obj, err := vm.pop()
		if err != nil {
			return 0, err
		}
		out := vm.selectRange(obj, rng, cmd.Sel)
		vm.push(out)

	case dsl.OpSelectV:
		idxFrame, err := vm.pop()
		if err != nil {
			return 0, err
		}
		obj, err := vm.pop()
		if err != nil {
			return 0, err
		}
		out := vm.selectDynamic(obj, idxFrame)
		vm.push(out)

	case dsl.OpConcat:
		frames, err := vm.popN(cmd.Param)
		if err != nil {
			return 0, err
		}
		out, err := vm.concat(frames)
		if err != nil {
			return 0, err
		}
		vm.push(out)

	case dsl.OpCallFn:
		name, _ := vm.lits[cmd.Param2].Str(vm.vmPool)
		args, err := vm.popN(cmd.Param)
		if err != nil {
			return 0, err
		}
		out, err := vm.callFn(name, args)
		if err != nil {
			return 0, err
		}
		vm.push(out)

	default:
		return 0, ErrBadOpcode
	}
	return ip + 1, nil
}

// getVar resolves name against the memoization table, detecting a
// variable that reads itself mid-evaluation (§4.7 "evals").
func (vm *VM) getVar(name string) (*StackFrame, error) {
	entry, ok := vm.evals[name]
	if !ok {
		return nil, ErrUnknownVar
	}
	if entry.evaluating {
		return nil, ErrSelfReference
	}
	if !entry.resolved {
		entry.evaluating = true
		frame, err := vm.execAt(entry.entryIP)
		entry.evaluating = false
		if err != nil {
			return nil, err
		}
		entry.frame = frame
		entry.resolved = true
	}
	out := NewFrame()
	out.refs = append(out.refs, entry.frame.refs...)
	return out, nil
}

// lookupSubkey resolves key against v (if v is a Map), without triggering
// any fetcher: filter predicates never perform external I/O (§5 "no lock
// held across external I/O").
func lookupSubkey(p *pool.Pool, v *variant.V, key string) (bool, *variant.V, *pool.Pool) {
	if v == nil || v.Kind() != variant.Map {
		return false, nil, nil
	}
	h, ok := p.Lookup(key)
	if !ok {
		return false, nil, nil
	}
	box, ok := v.MapData().GetNoFetch(h)
	if !ok {
		return false, nil, nil
	}
	return true, box, p
}

// evalBinOp applies a keycmp comparison operator (§4.6 grammar's binop).
// a/pa is the candidate's subkey value (nil, present=false if absent);
// b/pb is the comparand.
func evalBinOp(op dsl.BinOp, pa *pool.Pool, a *variant.V, present bool, pb *pool.Pool, b *variant.V) bool {
	switch op {
	case dsl.BinExists:
		return present
	case dsl.BinLtExist:
		return present && variant.Lt(a, b)
	case dsl.BinGtExist:
		return present && variant.Gt(a, b)
	}
	if !present {
		return false
	}
	switch op {
	case dsl.BinEq:
		return variant.Eq(pa, a, pb, b)
	case dsl.BinNe:
		return !variant.Eq(pa, a, pb, b)
	case dsl.BinLt:
		return variant.Lt(a, b)
	case dsl.BinLe:
		return variant.Lt(a, b) || variant.Eq(pa, a, pb, b)
	case dsl.BinGt:
		return variant.Gt(a, b)
	case dsl.BinGe:
		return variant.Gt(a, b) || variant.Eq(pa, a, pb, b)
	default:
		return false
	}
}

// filterEntries implements FILTERKEY/CHECKKEY (§4.6): for each ref in obj,
// if it is an Array, keep the elements whose subkey passes test; if it is
// a Map, keep the ref itself when its own subkey passes. sel's repack bit
// decides whether survivors come back as a freshly built container or as
// a flat list of refs into the originals.
func (vm *VM) filterEntries(obj *StackFrame, keyStr string, test func(present bool, p *pool.Pool, v *variant.V) bool, sel dsl.Sel) (*StackFrame, error) {
	out := NewFrame()
	repack := sel == dsl.SelObjectRepack || sel == dsl.SelStackRepack
	for _, r := range obj.refs {
		switch r.ptr.Kind() {
		case variant.Array:
			var kept []ref
			for i := range r.ptr.Elems() {
				elem := r.ptr.Elem(i)
				present, v, p := lookupSubkey(r.pool, elem, keyStr)
				if test(present, p, v) {
					kept = append(kept, ref{pool: r.pool, ptr: elem})
				}
			}
			if repack {
				arr := variant.NewArray(len(kept))
				for _, kr := range kept {
					arr.AppendElem(variant.Clone(kr.pool, kr.ptr, vm.vmPool))
				}
				out.AddRel(vm.vmPool, arr, r.keyStr, r.hasKey)
			} else {
				out.refs = append(out.refs, kept...)
			}
		case variant.Map:
			present, v, p := lookupSubkey(r.pool, r.ptr, keyStr)
			if test(present, p, v) {
				out.refs = append(out.refs, r)
			}
		}
	}
	out.MakeAbs()
	out.AdoptStore(obj)
	return out, nil
}

// keySel implements KEYSEL (§4.6 grammar's keysel): KEEP/DROP rewrite a
// Map's keyset (optionally renaming survivors per renameMap); KEY regroups
// an Array or Map of records by one of their own subkeys, named by
// renameMap's first entry.
func (vm *VM) keySel(op dsl.KeySelOp, renameMap *variant.V) (*StackFrame, error) {
	obj, err := vm.pop()
	if err != nil {
		return nil, err
	}
	out := NewFrame()
	for _, r := range obj.refs {
		switch op {
		case dsl.KeySelKeep, dsl.KeySelDrop:
			if r.ptr.Kind() != variant.Map {
				out.refs = append(out.refs, r)
				continue
			}
			result := variant.NewMap(r.ptr.Len())
			r.ptr.MapData().Iterate(func(e variant.Entry) bool {
				keyStr, _, _ := r.pool.Get(e.Key)
				h, ok := vm.vmPool.Lookup(keyStr)
				var renameBox *variant.V
				has := false
				if ok {
					renameBox, has = renameMap.MapData().GetNoFetch(h)
				}
				if has == (op != dsl.KeySelKeep) {
					return true
				}
				newKey := keyStr
				if has {
					if s, ok := renameBox.Str(vm.vmPool); ok {
						newKey = s
					}
				}
				cloned := variant.Clone(r.pool, e.Value, vm.vmPool)
				result.MapData().Put(vm.vmPool, vm.vmPool.Intern(newKey), cloned)
				return true
			})
			out.AddRel(vm.vmPool, result, r.keyStr, r.hasKey)
		case dsl.KeySelKey:
			subkey := ""
			renameMap.MapData().Iterate(func(e variant.Entry) bool {
				s, _, _ := vm.vmPool.Get(e.Key)
				subkey = s
				return false
			})
			result := variant.NewMap(0)
			rekey := func(p *pool.Pool, v *variant.V) {
				present, keyVal, kp := lookupSubkey(p, v, subkey)
				if !present {
					return
				}
				ks, ok := keyVal.Str(kp)
				if !ok {
					return
				}
				result.MapData().Put(vm.vmPool, vm.vmPool.Intern(ks), variant.Clone(p, v, vm.vmPool))
			}
			switch r.ptr.Kind() {
			case variant.Array:
				for i := range r.ptr.Elems() {
					rekey(r.pool, r.ptr.Elem(i))
				}
			case variant.Map:
				r.ptr.MapData().Iterate(func(e variant.Entry) bool {
					rekey(r.pool, e.Value)
					return true
				})
			}
			out.AddRel(vm.vmPool, result, r.keyStr, r.hasKey)
		}
	}
	out.MakeAbs()
	out.AdoptStore(obj)
	return out, nil
}

// selectRange implements SELECTLIT (§4.6 grammar's range): keep array
// elements whose index falls in any of rng's spans.
func (vm *VM) selectRange(obj *StackFrame, rng []variant.Span, sel dsl.Sel) *StackFrame {
	out := NewFrame()
	repack := sel == dsl.SelObjectRepack || sel == dsl.SelStackRepack
	for _, r := range obj.refs {
		if r.ptr.Kind() != variant.Array {
			continue
		}
		var kept []ref
		for i := range r.ptr.Elems() {
			for _, span := range rng {
				if span.Contains(int64(i)) {
					kept = append(kept, ref{pool: r.pool, ptr: r.ptr.Elem(i)})
					break
				}
			}
		}
		if repack {
			arr := variant.NewArray(len(kept))
			for _, kr := range kept {
				arr.AppendElem(variant.Clone(kr.pool, kr.ptr, vm.vmPool))
			}
			out.AddRel(vm.vmPool, arr, r.keyStr, r.hasKey)
		} else {
			out.refs = append(out.refs, kept...)
		}
	}
	out.MakeAbs()
	out.AdoptStore(obj)
	return out
}

// selectDynamic implements SELECTV (§4.6): the index expression's results
// pick array elements by integer index, or map entries by string key.
func (vm *VM) selectDynamic(obj, idx *StackFrame) *StackFrame {
	out := NewFrame()
	for _, r := range obj.refs {
		switch r.ptr.Kind() {
		case variant.Array:
			n := r.ptr.Len()
			for _, ir := range idx.refs {
				i, ok := asInt(ir.ptr)
				if !ok || i < 0 || int(i) >= n {
					continue
				}
				out.refs = append(out.refs, ref{pool: r.pool, ptr: r.ptr.Elem(int(i))})
			}
		case variant.Map:
			for _, ir := range idx.refs {
				if ir.ptr.Kind() != variant.String {
					continue
				}
				key, _ := ir.ptr.Str(ir.pool)
				present, v, p := lookupSubkey(r.pool, r.ptr, key)
				if present {
					out.refs = append(out.refs, ref{pool: p, ptr: v})
				}
			}
		}
	}
	out.AdoptStore(obj)
	out.AdoptStore(idx)
	return out
}

func asInt(v *variant.V) (int64, bool) {
	switch v.Kind() {
	case variant.Int:
		return v.IntVal(), true
	case variant.Uint:
		return int64(v.UintVal()), true
	case variant.Float:
		return int64(v.FloatVal()), true
	default:
		return 0, false
	}
}

// concat implements CONCAT (§4.6): string-concatenate corresponding
// entries across frames. A frame with a single ref broadcasts it against
// every position of a wider sibling frame.
func (vm *VM) concat(frames []*StackFrame) (*StackFrame, error) {
	count := 1
	for _, f := range frames {
		if len(f.refs) > count {
			count = len(f.refs)
		}
	}
	out := NewFrame()
	for i := 0; i < count; i++ {
		var sb strings.Builder
		for _, f := range frames {
			var r ref
			switch {
			case len(f.refs) == 1:
				r = f.refs[0]
			case i < len(f.refs):
				r = f.refs[i]
			default:
				continue
			}
			sb.WriteString(stringOf(r.pool, r.ptr))
		}
		out.AddRel(vm.vmPool, variant.NewString(vm.vmPool, sb.String()), "", false)
	}
	out.MakeAbs()
	for _, f := range frames {
		out.AdoptStore(f)
	}
	return out, nil
}

// stringOf renders v's text form for CONCAT. Containers render empty;
// unquoted-text concatenation only ever touches scalar results in
// practice, since a container reaching CONCAT would mean the grammar
// compiled a container-valued segment into surrounding literal text.
func stringOf(p *pool.Pool, v *variant.V) string {
	switch v.Kind() {
	case variant.String:
		s, _ := v.Str(p)
		return s
	case variant.Bool:
		return strconv.FormatBool(v.Bool())
	case variant.Int:
		return strconv.FormatInt(v.IntVal(), 10)
	case variant.Uint:
		return strconv.FormatUint(v.UintVal(), 10)
	case variant.Float:
		return strconv.FormatFloat(v.FloatVal(), 'g', -1, 64)
	default:
		return ""
	}
}
