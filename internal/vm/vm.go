package vm

import (
	"fmt"

	"github.com/kluzzebass/treeserve/internal/dsl"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// evalEntry is one named variable's slot in the VM's memoization table
// (§4.7 "evals"). A slot starts out either already resolved (view input
// variables, bound via BindVar) or lazy (template expressions, bound via
// BindEntryVar); evaluating guards against a variable reading itself while
// its own bytecode is still running.
type evalEntry struct {
	entryIP    int
	frame      *StackFrame
	resolved   bool
	evaluating bool
}

// VM is a single-threaded stack machine that runs one Executable's
// bytecode against a read-locked data tree (§4.7). A VM owns its own pool,
// independent of both the data tree's pool and the Executable's literal
// pool, so results it produces outlive the call that built it until the
// caller clones them elsewhere and discards the VM.
type VM struct {
	dataPool *pool.Pool
	vmPool   *pool.Pool

	cmds []dsl.Cmd
	lits []variant.V

	root *variant.V

	stack []*StackFrame
	evals map[string]*evalEntry
}

// New builds a VM for ex against a read-locked tree rooted at root (backed
// by dataPool). The executable's literal table is deep-cloned into the
// VM's own pool so the VM's lifetime never depends on the Executable that
// compiled it (§4.7: "literals - deep clone of the Executable's literal
// table").
func New(ex *dsl.Executable, dataPool *pool.Pool, root *variant.V) *VM {
	vmPool := pool.New()
	srcPool := ex.Pool()
	lits := make([]variant.V, ex.Lits.Len())
	for i := 0; i < ex.Lits.Len(); i++ {
		lits[i] = variant.Clone(srcPool, ex.Lits.Get(i), vmPool)
	}
	cmds := make([]dsl.Cmd, len(ex.Cmds))
	copy(cmds, ex.Cmds)
	return &VM{
		dataPool: dataPool,
		vmPool:   vmPool,
		cmds:     cmds,
		lits:     lits,
		root:     root,
		evals:    make(map[string]*evalEntry),
	}
}

// Pool returns the VM's private pool. Callers that keep a result beyond
// the VM's lifetime must Clone it out of this pool before calling Close.
func (vm *VM) Pool() *pool.Pool { return vm.vmPool }

// BindVar installs name as an already-resolved variable: a single borrowed
// ref to v, backed by p (§4.9 step 2, "insert into the VM's evals as a
// precomputed StackFrame containing a single ref to the variable's
// value").
func (vm *VM) BindVar(name string, p *pool.Pool, v *variant.V) {
	f := NewFrame()
	f.refs = append(f.refs, ref{pool: p, ptr: v})
	vm.evals[name] = &evalEntry{frame: f, resolved: true}
}

// BindEntryVar installs name as a lazily-evaluated variable: the first
// GETVAR that reads it runs the entry point's bytecode and memoizes the
// resulting frame for subsequent reads.
func (vm *VM) BindEntryVar(name string, entryIP int) {
	vm.evals[name] = &evalEntry{entryIP: entryIP}
}

// Exec runs the bytecode at entry point ip and returns the resulting
// frame. The caller owns the returned frame: its refs may point into the
// source tree, into the VM's pool, or into another named variable's
// memoized frame, so they must be consumed or cloned, and the frame
// Cleared, before Exec or Close run again (§4.7 "Execution contract").
func (vm *VM) Exec(ip int) (*StackFrame, error) {
	return vm.execAt(ip)
}

// Close releases every variable frame the VM memoized. Call once all
// Exec results have been consumed.
func (vm *VM) Close() {
	for _, e := range vm.evals {
		if e.frame != nil {
			e.frame.Clear()
		}
	}
	vm.evals = nil
}

func (vm *VM) execAt(ip int) (*StackFrame, error) {
	base := len(vm.stack)
	vm.pushRoot()
	if err := vm.run(ip); err != nil {
		vm.unwindTo(base)
		return nil, err
	}
	// The bytecode leaves its result frame on top of the initial root frame.
	if len(vm.stack) != base+2 {
		left := len(vm.stack) - base - 1
		vm.unwindTo(base)
		return nil, fmt.Errorf("vm: bytecode at %d left %d result frames, expected exactly 1", ip, left)
	}
	result := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	vm.unwindTo(base)
	return result, nil
}

// pushRoot pushes a frame holding one borrowed ref to the data tree's
// root. Used both for the initial frame the execution contract requires
// and for the PUSHROOT opcode (§4.6 "~ pushes the initial input root").
func (vm *VM) pushRoot() {
	f := NewFrame()
	f.refs = append(f.refs, ref{pool: vm.dataPool, ptr: vm.root})
	vm.stack = append(vm.stack, f)
}

// unwindTo pops and clears every frame above base, leaving the stack in a
// defined, destructible state after an error (§4.7).
func (vm *VM) unwindTo(base int) {
	for len(vm.stack) > base {
		f := vm.stack[len(vm.stack)-1]
		vm.stack = vm.stack[:len(vm.stack)-1]
		f.Clear()
	}
}

func (vm *VM) push(f *StackFrame) { vm.stack = append(vm.stack, f) }

func (vm *VM) pop() (*StackFrame, error) {
	if len(vm.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	f := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return f, nil
}

func (vm *VM) popN(n int) ([]*StackFrame, error) {
	if n == 0 {
		return nil, nil
	}
	if len(vm.stack) < n {
		return nil, ErrStackUnderflow
	}
	out := make([]*StackFrame, n)
	copy(out, vm.stack[len(vm.stack)-n:])
	vm.stack = vm.stack[:len(vm.stack)-n]
	return out, nil
}

// run executes straight-line bytecode starting at ip until it reaches a
// DONE instruction, which is where every compiled entry point's code ends
// (§4.6 "Compilation output").
func (vm *VM) run(ip int) error {
	for {
		if ip < 0 || ip >= len(vm.cmds) {
			return ErrBadOpcode
		}
		cmd := vm.cmds[ip]
		if cmd.Op == dsl.OpDone {
			return nil
		}
		next, err := vm.step(ip, cmd)
		if err != nil {
			return err
		}
		ip = next
	}
}
