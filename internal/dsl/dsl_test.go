package dsl

import "testing"

func TestSentinelDoneAtZero(t *testing.T) {
	ex := NewExecutable()
	if len(ex.Cmds) != 1 || ex.Cmds[0].Op != OpDone {
		t.Fatalf("expected a single sentinel DONE at index 0, got %+v", ex.Cmds)
	}
}

func TestCompileLiteralText(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("hello world")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if entry == 0 {
		t.Fatalf("entry point must never be 0")
	}
	if ex.Cmds[entry].Op != OpLiteral {
		t.Fatalf("expected LITERAL at entry, got %v", ex.Cmds[entry].Op)
	}
	s, _ := ex.Lits.Get(ex.Cmds[entry].Param).Str(ex.Pool())
	if s != "hello world" {
		t.Fatalf("expected literal %q, got %q", "hello world", s)
	}
}

func TestCompileVarrefAndConcat(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("hi $name!")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := opSeq(ex, entry)
	want := []Opcode{OpLiteral, OpGetVar, OpLiteral, OpConcat, OpDone}
	assertOps(t, ops, want)
}

func TestCompileDotAndTilde(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${.}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := opSeq(ex, entry)
	assertOps(t, ops, []Opcode{OpDup, OpDone})

	ex2 := NewExecutable()
	entry2, err := ex2.Compile("${~}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertOps(t, opSeq(ex2, entry2), []Opcode{OpPushRoot, OpDone})
}

func TestCompileFnCallAndLookup(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${toint($x)/field}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := opSeq(ex, entry)
	assertOps(t, ops, []Opcode{OpGetVar, OpCallFn, OpLookup, OpDone})
}

func TestCompileTransformPipe(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${$x|compact}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertOps(t, opSeq(ex, entry), []Opcode{OpGetVar, OpCallFn, OpDone})
}

func TestCompileCheckKeyFastPath(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${$x[\"status\"==200]}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := opSeq(ex, entry)
	assertOps(t, ops, []Opcode{OpGetVar, OpCheckKey, OpDone})
}

func TestCompileDynamicFilterKey(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${$x[\"status\"==$y]}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ops := opSeq(ex, entry)
	// A non-literal RHS ($y is a varref, not a literal) cannot take the
	// CHECKKEY fast path, so the comparand is evaluated on the stack and
	// FILTERKEY consumes it at runtime.
	assertOps(t, ops, []Opcode{OpGetVar, OpGetVar, OpFilterKey, OpDone})

	cmd := ex.Cmds[entry+2]
	if cmd.Op != OpFilterKey {
		t.Fatalf("expected FILTERKEY at index %d, got %v", entry+2, cmd.Op)
	}
	if cmd.Op2 != BinEq || cmd.Invert {
		t.Fatalf("expected uninverted BinEq, got op2=%v invert=%v", cmd.Op2, cmd.Invert)
	}
	key, _ := ex.Lits.Get(cmd.Param).Str(ex.Pool())
	if key != "status" {
		t.Fatalf("expected key literal %q, got %q", "status", key)
	}
}

func TestCompileRangeSelector(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${$x[0:3,7]}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertOps(t, opSeq(ex, entry), []Opcode{OpGetVar, OpSelectLit, OpDone})
}

func TestCompileKeySel(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("${$x[keep a, b=c]}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertOps(t, opSeq(ex, entry), []Opcode{OpGetVar, OpKeySel, OpDone})
}

func TestCompileFailureRollsBackLiteralsAndCmds(t *testing.T) {
	ex := NewExecutable()
	_, err := ex.Compile("plain text first")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cmdsBefore := len(ex.Cmds)
	litsBefore := ex.Lits.Len()

	_, err = ex.Compile("${$x[")
	if err == nil {
		t.Fatalf("expected parse failure on unterminated selector")
	}
	if len(ex.Cmds) != cmdsBefore {
		t.Fatalf("failed compile must not leave stray instructions: before=%d after=%d", cmdsBefore, len(ex.Cmds))
	}
	if ex.Lits.Len() != litsBefore {
		t.Fatalf("failed compile must not leave stray literals: before=%d after=%d", litsBefore, ex.Lits.Len())
	}
}

func TestCompileEmptyString(t *testing.T) {
	ex := NewExecutable()
	entry, err := ex.Compile("")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertOps(t, opSeq(ex, entry), []Opcode{OpLiteral, OpDone})
}

func opSeq(ex *Executable, entry int) []Opcode {
	var out []Opcode
	for i := entry; i < len(ex.Cmds); i++ {
		out = append(out, ex.Cmds[i].Op)
		if ex.Cmds[i].Op == OpDone {
			break
		}
	}
	return out
}

func assertOps(t *testing.T, got, want []Opcode) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("opcode sequence length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("opcode %d mismatch: got %v want %v (full got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}
