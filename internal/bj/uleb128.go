package bj

import (
	"bufio"
	"errors"
)

// ErrULEB128TooLong is returned when a ULEB128 sequence exceeds the maximum
// number of bytes representable in a 64-bit value (§4.5: "rejects encodings
// longer than 10 bytes for a 64-bit value").
var ErrULEB128TooLong = errors.New("bj: uleb128 sequence too long")

// ErrULEB128Overflow is returned when adding a continuation byte's
// contribution would overflow a uint64.
var ErrULEB128Overflow = errors.New("bj: uleb128 value overflows 64 bits")

const maxULEB128Bytes = 10

// writeULEB128 writes v in unsigned little-endian base-128 form.
func writeULEB128(w *bufio.Writer, v uint64) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := w.WriteByte(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// readULEB128 decodes a ULEB128-encoded uint64 from r. It tolerates
// non-canonical encodings (e.g. a value padded across more bytes than
// strictly necessary, as the BJ magic prefix does for "start=0") as long as
// the byte count and the arithmetic both stay within bounds.
func readULEB128(r *bufio.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxULEB128Bytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		payload := uint64(b & 0x7f)
		if shift >= 64 || (payload != 0 && shift > 63) {
			return 0, ErrULEB128Overflow
		}
		contribution := payload << shift
		if shift > 0 && (contribution>>shift) != payload {
			return 0, ErrULEB128Overflow
		}
		if result > ^uint64(0)-contribution {
			return 0, ErrULEB128Overflow
		}
		result += contribution
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrULEB128TooLong
}

// BJ has no zigzag encoding: negatives use a dedicated INT_NEG opcode with
// a separate unsigned mantissa instead.
