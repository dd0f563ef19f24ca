// Package dsl compiles the embedded view query language to bytecode
// (§4.6): an Executable plus a set of named Entry Points, later run by
// internal/vm's stack machine. Grounded on the teacher's internal/querylang
// package for lexer/parser shape (ParseError-with-position, sentinel
// errors, snapshot-and-roll-back-on-failure), adapted to an entirely
// different grammar — this is a template/expression micro-language embedded
// inside JSON strings, not querylang's boolean search predicate language.
package dsl

import "github.com/kluzzebass/treeserve/internal/pool"

// Opcode identifies a single VM instruction (§4.6 "Compilation output").
type Opcode uint8

const (
	OpLookup Opcode = iota
	OpGetVar
	OpFilterKey
	OpLiteral
	OpDup
	OpCheckKey
	OpKeySel
	OpSelectLit
	OpSelectV
	OpConcat
	OpPushRoot
	OpCallFn
	OpPop
	OpDone
)

func (o Opcode) String() string {
	switch o {
	case OpLookup:
		return "LOOKUP"
	case OpGetVar:
		return "GETVAR"
	case OpFilterKey:
		return "FILTERKEY"
	case OpLiteral:
		return "LITERAL"
	case OpDup:
		return "DUP"
	case OpCheckKey:
		return "CHECKKEY"
	case OpKeySel:
		return "KEYSEL"
	case OpSelectLit:
		return "SELECTLIT"
	case OpSelectV:
		return "SELECTV"
	case OpConcat:
		return "CONCAT"
	case OpPushRoot:
		return "PUSHROOT"
	case OpCallFn:
		return "CALLFN"
	case OpPop:
		return "POP"
	case OpDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// BinOp is a keycmp comparison operator (§4.6 grammar's `binop`).
type BinOp uint8

const (
	BinEq BinOp = iota
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	BinExists  // "??": key is present
	BinLtExist // "?<": present and less-than
	BinGtExist // "?>": present and greater-than
)

// Sel is the two-bit "current object vs. stack" / "repack result" enum
// FILTERKEY/CHECKKEY carry (§4.6).
type Sel uint8

const (
	SelObjectFlat Sel = iota
	SelObjectRepack
	SelStackFlat
	SelStackRepack
)

// KeySelOp identifies a KEYSEL mod's mode (§4.6 grammar's `keysel`).
type KeySelOp uint8

const (
	KeySelKeep KeySelOp = iota
	KeySelDrop
	KeySelKey
)

// Cmd is one bytecode instruction. Not every field is meaningful for every
// Opcode; which fields an opcode uses is set where parser.go emits it.
type Cmd struct {
	Op Opcode

	// Param/Param2 carry opcode-specific operands: a literal-table index,
	// a key literal index, a depth, an argument count, or a key-selection
	// mode depending on Op.
	Param  int
	Param2 int
	Invert bool
	Op2    BinOp
	Sel    Sel
}

// EntryPoint names a compiled instruction index a View can start execution
// from (§4.9).
type EntryPoint struct {
	Name string
	IP   int
}

// Executable is compiled bytecode plus the literal table it references
// (§4.6 "Compilation output"). Multiple source strings can be compiled into
// one Executable, each producing its own entry point; cmds[0] is always a
// sentinel DONE so entry index 0 is never a valid start (§4.6 "Parser
// invariants").
type Executable struct {
	Cmds []Cmd
	Lits *LiteralTable
}

// NewExecutable returns an Executable with the sentinel DONE at index 0.
func NewExecutable() *Executable {
	return &Executable{
		Cmds: []Cmd{{Op: OpDone}},
		Lits: NewLiteralTable(),
	}
}

// Pool returns the pool backing the executable's literal table, needed by
// callers that want to read literal values directly.
func (ex *Executable) Pool() *pool.Pool { return ex.Lits.Pool() }
