// Package bj implements the BJ binary codec: a compact, self-describing,
// streaming encoding of variant.V trees with a string constants table
// (§4.5, §6.3). It is the wire format the teacher's zstd-wrapped streams and
// on-disk snapshots both carry (see internal/snapshot).
package bj

import "errors"

// Opcode is the high 3 bits of a BJ lead byte.
type Opcode uint8

const (
	OpValue     Opcode = 0
	OpIntPos    Opcode = 1
	OpIntNeg    Opcode = 2
	OpString    Opcode = 3
	OpArray     Opcode = 4
	OpMap       Opcode = 5
	OpCopyConst Opcode = 6
	opReserved7 Opcode = 7
)

// Within OpValue, the low 5 bits dispatch further.
const (
	valueNull      = 0b00000
	valueBoolFalse = 0b00010
	valueBoolTrue  = 0b00011
	valueFloat32   = 0b00100
	valueFloat64   = 0b00101
	valueIntToFloatPos = 0b00110
	valueIntToFloatNeg = 0b00111
	valueDefineConsts  = 0b01000
)

// inlineMax is the largest size/value the low 5 bits of a size-carrying
// opcode (INT_POS, INT_NEG, STRING, ARRAY, MAP, COPY_CONST) can hold
// directly; 31 signals "read a follow-up ULEB128 instead".
const (
	inlineMax     = 30
	inlineOverflow = 31
)

func leadByte(op Opcode, low5 uint8) byte {
	return byte(op)<<5 | (low5 & 0x1f)
}

func splitLead(b byte) (Opcode, uint8) {
	return Opcode(b >> 5), b & 0x1f
}

// ErrReservedOpcode is returned for any lead byte using opcode 7 or an
// unrecognized VALUE sub-tag; the decoder must reject these (§4.5: "Any
// unused VALUE bit pattern: decoder fails").
var ErrReservedOpcode = errors.New("bj: reserved opcode or value tag")

// ErrTruncated is returned when the stream ends mid-token.
var ErrTruncated = errors.New("bj: truncated stream")

// ErrElementTooLarge is returned when a declared size/count exceeds the
// configured per-element limit.
var ErrElementTooLarge = errors.New("bj: element exceeds configured size limit")

// ErrTooManyConstants is returned when a constants-table definition exceeds
// the configured limit.
var ErrTooManyConstants = errors.New("bj: constants table exceeds configured limit")

// ErrDepthExceeded is returned when nested containers exceed the decoder's
// configured depth limit, bounding worst-case recursion the way the
// source's explicit frame stack bounds its own iteration (§4.5 "Fuzz
// robustness").
var ErrDepthExceeded = errors.New("bj: nesting depth exceeds configured limit")

// ErrNaN is returned when a decoded float payload would be NaN, which §3.1
// forbids numeric variants from silently carrying.
var ErrNaN = errors.New("bj: NaN is not a representable float payload")

// Options configures size limits and the magic-prefix bytes (§4.5 "Size
// limits (configurable)").
type Options struct {
	// MaxElementSize bounds any single string/array/map element size.
	// Default 1 GiB.
	MaxElementSize uint64
	// MaxConstants bounds the total number of constants-table slots a
	// stream may define. Default 256 Mi.
	MaxConstants uint64
	// MaxDepth bounds container nesting depth. Default 1000.
	MaxDepth int
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxElementSize: 1 << 30,
		MaxConstants:   256 << 20,
		MaxDepth:       1000,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxElementSize == 0 {
		o.MaxElementSize = DefaultOptions().MaxElementSize
	}
	if o.MaxConstants == 0 {
		o.MaxConstants = DefaultOptions().MaxConstants
	}
	if o.MaxDepth == 0 {
		o.MaxDepth = DefaultOptions().MaxDepth
	}
	return o
}

// Magic is the 4-byte self-describing prefix every BJ stream begins with: a
// valid "define zero constants starting at 0" token, chosen so it can never
// appear as the start of valid JSON text (§4.5 "Magic prefix").
var Magic = [4]byte{leadByte(OpValue, valueDefineConsts), 0x80, 0x00, 0x00}

// HasMagic reports whether b begins with the BJ magic prefix, the signal
// used for format autodetection against JSON (§8 property 2).
func HasMagic(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	return b[0] == Magic[0] && b[1] == Magic[1] && b[2] == Magic[2] && b[3] == Magic[3]
}
