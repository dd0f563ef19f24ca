package bj

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// Encode writes root (backed by p) to w in BJ form: the magic prefix, a
// constants-table definition for every pooled string referenced more than
// once, then the tree itself with repeated strings replaced by COPY_CONST
// references (§4.5, §6.3).
func Encode(w io.Writer, p *pool.Pool, root *variant.V, opts Options) error {
	opts = opts.withDefaults()
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(Magic[:]); err != nil {
		return err
	}

	consts, idx, err := buildConstants(p, opts)
	if err != nil {
		return err
	}
	if len(consts) > 0 {
		if err := writeDefineConstants(bw, consts); err != nil {
			return err
		}
	}

	if err := encodeValue(bw, p, root, idx, 0, opts); err != nil {
		return err
	}
	return bw.Flush()
}

// buildConstants selects every pooled string with refcount >= 2 (a string
// referenced once costs nothing to spell out literally) and orders the
// table by refcount descending, then bytes ascending, for a deterministic
// encoding given a deterministic pool snapshot.
func buildConstants(p *pool.Pool, opts Options) ([]pool.CollatedString, map[pool.Handle]int, error) {
	all := p.Collate()
	out := make([]pool.CollatedString, 0, len(all))
	for _, cs := range all {
		if cs.Refcount >= 2 {
			out = append(out, cs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Refcount != out[j].Refcount {
			return out[i].Refcount > out[j].Refcount
		}
		return out[i].Bytes < out[j].Bytes
	})
	if uint64(len(out)) > opts.MaxConstants {
		return nil, nil, ErrTooManyConstants
	}
	idx := make(map[pool.Handle]int, len(out))
	for i, cs := range out {
		idx[cs.Handle] = i
	}
	return out, idx, nil
}

func writeDefineConstants(w *bufio.Writer, consts []pool.CollatedString) error {
	if err := w.WriteByte(leadByte(OpValue, valueDefineConsts)); err != nil {
		return err
	}
	if err := writeULEB128(w, 0); err != nil { // startIndex
		return err
	}
	if err := writeULEB128(w, uint64(len(consts))); err != nil {
		return err
	}
	for _, cs := range consts {
		if err := writeULEB128(w, uint64(len(cs.Bytes))); err != nil {
			return err
		}
		if _, err := w.WriteString(cs.Bytes); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(w *bufio.Writer, p *pool.Pool, v *variant.V, consts map[pool.Handle]int, depth int, opts Options) error {
	if depth > opts.MaxDepth {
		return ErrDepthExceeded
	}
	switch v.Kind() {
	case variant.Null:
		return w.WriteByte(leadByte(OpValue, valueNull))

	case variant.Bool:
		if v.Bool() {
			return w.WriteByte(leadByte(OpValue, valueBoolTrue))
		}
		return w.WriteByte(leadByte(OpValue, valueBoolFalse))

	case variant.Int:
		return writeSignedInt(w, v.IntVal())

	case variant.Uint:
		return writeSizedToken(w, OpIntPos, v.UintVal())

	case variant.Float:
		return encodeFloat(w, v.FloatVal())

	case variant.String:
		h, _ := v.StrHandle()
		if i, ok := consts[h]; ok {
			return writeSizedToken(w, OpCopyConst, uint64(i))
		}
		s, _ := v.Str(p)
		if uint64(len(s)) > opts.MaxElementSize {
			return ErrElementTooLarge
		}
		if err := writeSizedToken(w, OpString, uint64(len(s))); err != nil {
			return err
		}
		_, err := w.WriteString(s)
		return err

	case variant.Array:
		n := v.Len()
		if uint64(n) > opts.MaxElementSize {
			return ErrElementTooLarge
		}
		if err := writeSizedToken(w, OpArray, uint64(n)); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := encodeValue(w, p, v.Elem(i), consts, depth+1, opts); err != nil {
				return err
			}
		}
		return nil

	case variant.Map:
		md := v.MapData()
		n := 0
		if md != nil {
			n = md.Len()
		}
		if uint64(n) > opts.MaxElementSize {
			return ErrElementTooLarge
		}
		if err := writeSizedToken(w, OpMap, uint64(n)); err != nil {
			return err
		}
		if md == nil {
			return nil
		}
		var encErr error
		md.Iterate(func(e variant.Entry) bool {
			if encErr = encodeKey(w, p, e.Key, consts); encErr != nil {
				return false
			}
			encErr = encodeValue(w, p, e.Value, consts, depth+1, opts)
			return encErr == nil
		})
		return encErr

	default:
		// Range and Ptr are internal-only and must never reach the wire
		// (§3.1); callers must strip them before encoding.
		return ErrReservedOpcode
	}
}

func encodeKey(w *bufio.Writer, p *pool.Pool, key pool.Handle, consts map[pool.Handle]int) error {
	if i, ok := consts[key]; ok {
		return writeSizedToken(w, OpCopyConst, uint64(i))
	}
	s, _, _ := p.Get(key)
	if err := writeSizedToken(w, OpString, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func writeSignedInt(w *bufio.Writer, i int64) error {
	if i >= 0 {
		return writeSizedToken(w, OpIntPos, uint64(i))
	}
	// i == math.MinInt64 has no positive counterpart in int64; widen first.
	mag := uint64(-(i + 1)) + 1
	return writeSizedToken(w, OpIntNeg, mag)
}

// encodeFloat uses the compact int-to-float tokens whenever the value is
// integral and representable without loss in an int64 mantissa, falling
// back to a raw 8-byte IEEE-754 payload otherwise (§4.5).
func encodeFloat(w *bufio.Writer, f float64) error {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < math.MaxInt64 {
		i := int64(f)
		if i >= 0 {
			if err := w.WriteByte(leadByte(OpValue, valueIntToFloatPos)); err != nil {
				return err
			}
			return writeULEB128(w, uint64(i))
		}
		if err := w.WriteByte(leadByte(OpValue, valueIntToFloatNeg)); err != nil {
			return err
		}
		mag := uint64(-(i + 1)) + 1
		return writeULEB128(w, mag)
	}
	if err := w.WriteByte(leadByte(OpValue, valueFloat64)); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	_, err := w.Write(buf[:])
	return err
}
