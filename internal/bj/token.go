package bj

import "bufio"

// writeSizedToken writes a lead byte for a size/count/index-carrying opcode,
// inlining n directly into the low 5 bits when it fits (0..30) and otherwise
// writing the escape value 31 followed by a ULEB128 payload (§4.5).
func writeSizedToken(w *bufio.Writer, op Opcode, n uint64) error {
	if n <= inlineMax {
		return w.WriteByte(leadByte(op, uint8(n)))
	}
	if err := w.WriteByte(leadByte(op, inlineOverflow)); err != nil {
		return err
	}
	return writeULEB128(w, n)
}

// readSizedPayload resolves the size/count/index carried by a token whose
// lead byte already yielded low5; it reads the ULEB128 follow-up only when
// low5 signals the inline range was exceeded.
func readSizedPayload(r *bufio.Reader, low5 uint8) (uint64, error) {
	if low5 != inlineOverflow {
		return uint64(low5), nil
	}
	return readULEB128(r)
}
