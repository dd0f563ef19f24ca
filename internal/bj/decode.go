package bj

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// ErrBadMagic is returned when a stream doesn't begin with the BJ magic
// prefix.
var ErrBadMagic = errors.New("bj: missing magic prefix")

// ErrBadConstRef is returned when COPY_CONST names a slot that was never
// defined (or was defined to NoHandle).
var ErrBadConstRef = errors.New("bj: reference to undefined constant")

// ErrKeyNotString is returned when a map key token decodes to something
// other than a string.
var ErrKeyNotString = errors.New("bj: map key must be a string")

// Decode reads one BJ stream from r into a fresh Variant backed by dstPool.
// On any error the returned Variant is Null; any partially-built containers
// are Cleared before returning, and any constants-table strings the decoder
// itself interned are released, so a failed Decode never leaks pool storage
// (§8, scenario "malformed/truncated BJ decodes to failure with destination
// left Null").
func Decode(r io.Reader, dstPool *pool.Pool, opts Options) (variant.V, error) {
	opts = opts.withDefaults()
	br := bufio.NewReader(r)

	var magicBuf [4]byte
	if _, err := io.ReadFull(br, magicBuf[:]); err != nil {
		return variant.V{}, ErrBadMagic
	}
	if magicBuf != Magic {
		return variant.V{}, ErrBadMagic
	}

	var consts []pool.Handle
	defer func() {
		for _, h := range consts {
			dstPool.Decref(h)
		}
	}()

	for {
		lead, err := br.ReadByte()
		if err != nil {
			return variant.V{}, ErrTruncated
		}
		op, low5 := splitLead(lead)
		if op == OpValue && low5 == valueDefineConsts {
			if err := decodeDefineConstants(br, dstPool, &consts, opts); err != nil {
				return variant.V{}, err
			}
			continue
		}
		return decodeValueToken(br, dstPool, consts, lead, 0, opts)
	}
}

func decodeDefineConstants(br *bufio.Reader, p *pool.Pool, consts *[]pool.Handle, opts Options) error {
	startIndex, err := readULEB128(br)
	if err != nil {
		return err
	}
	count, err := readULEB128(br)
	if err != nil {
		return err
	}
	if count > opts.MaxConstants {
		return ErrTooManyConstants
	}
	needed := startIndex + count
	if needed > opts.MaxConstants {
		return ErrTooManyConstants
	}
	if needed > uint64(len(*consts)) {
		grown := make([]pool.Handle, needed)
		copy(grown, *consts)
		*consts = grown
	}
	for i := uint64(0); i < count; i++ {
		n, err := readULEB128(br)
		if err != nil {
			return err
		}
		if n > opts.MaxElementSize {
			return ErrElementTooLarge
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return ErrTruncated
		}
		h := p.Intern(string(buf))
		slot := startIndex + i
		if old := (*consts)[slot]; old != pool.NoHandle {
			p.Decref(old)
		}
		(*consts)[slot] = h
	}
	return nil
}

func decodeValueToken(br *bufio.Reader, p *pool.Pool, consts []pool.Handle, lead byte, depth int, opts Options) (variant.V, error) {
	if depth > opts.MaxDepth {
		return variant.V{}, ErrDepthExceeded
	}
	op, low5 := splitLead(lead)

	switch op {
	case OpValue:
		switch low5 {
		case valueNull:
			return variant.NewNull(), nil
		case valueBoolFalse:
			return variant.NewBool(false), nil
		case valueBoolTrue:
			return variant.NewBool(true), nil
		case valueFloat32:
			var buf [4]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return variant.V{}, ErrTruncated
			}
			f := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:])))
			v, err := variant.NewFloat(f)
			if err != nil {
				return variant.V{}, ErrNaN
			}
			return v, nil
		case valueFloat64:
			var buf [8]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return variant.V{}, ErrTruncated
			}
			f := math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
			v, err := variant.NewFloat(f)
			if err != nil {
				return variant.V{}, ErrNaN
			}
			return v, nil
		case valueIntToFloatPos:
			mantissa, err := readULEB128(br)
			if err != nil {
				return variant.V{}, err
			}
			v, err := variant.NewFloat(float64(mantissa))
			if err != nil {
				return variant.V{}, ErrNaN
			}
			return v, nil
		case valueIntToFloatNeg:
			mantissa, err := readULEB128(br)
			if err != nil {
				return variant.V{}, err
			}
			v, err := variant.NewFloat(-float64(mantissa))
			if err != nil {
				return variant.V{}, ErrNaN
			}
			return v, nil
		default:
			return variant.V{}, ErrReservedOpcode
		}

	case OpIntPos:
		n, err := readSizedPayload(br, low5)
		if err != nil {
			return variant.V{}, err
		}
		return variant.NewInt(int64(n)), nil

	case OpIntNeg:
		n, err := readSizedPayload(br, low5)
		if err != nil {
			return variant.V{}, err
		}
		return variant.NewInt(-int64(n)), nil

	case OpString:
		n, err := readSizedPayload(br, low5)
		if err != nil {
			return variant.V{}, err
		}
		if n > opts.MaxElementSize {
			return variant.V{}, ErrElementTooLarge
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return variant.V{}, ErrTruncated
		}
		return variant.NewString(p, string(buf)), nil

	case OpArray:
		n, err := readSizedPayload(br, low5)
		if err != nil {
			return variant.V{}, err
		}
		if n > opts.MaxElementSize {
			return variant.V{}, ErrElementTooLarge
		}
		arr := variant.NewArray(int(n))
		for i := uint64(0); i < n; i++ {
			elemLead, err := br.ReadByte()
			if err != nil {
				arr.Clear(p)
				return variant.V{}, ErrTruncated
			}
			elem, err := decodeValueToken(br, p, consts, elemLead, depth+1, opts)
			if err != nil {
				arr.Clear(p)
				return variant.V{}, err
			}
			arr.AppendElem(elem)
		}
		return arr, nil

	case OpMap:
		n, err := readSizedPayload(br, low5)
		if err != nil {
			return variant.V{}, err
		}
		if n > opts.MaxElementSize {
			return variant.V{}, ErrElementTooLarge
		}
		m := variant.NewMap(int(n))
		for i := uint64(0); i < n; i++ {
			keyLead, err := br.ReadByte()
			if err != nil {
				m.Clear(p)
				return variant.V{}, ErrTruncated
			}
			key, err := decodeKeyToken(br, p, consts, keyLead, opts)
			if err != nil {
				m.Clear(p)
				return variant.V{}, err
			}
			valLead, err := br.ReadByte()
			if err != nil {
				p.Decref(key)
				m.Clear(p)
				return variant.V{}, ErrTruncated
			}
			val, err := decodeValueToken(br, p, consts, valLead, depth+1, opts)
			if err != nil {
				p.Decref(key)
				m.Clear(p)
				return variant.V{}, err
			}
			m.MapData().Put(p, key, val)
			p.Decref(key) // balances the probe intern in decodeKeyToken; Put increfs on real insert
		}
		return m, nil

	case OpCopyConst:
		idx, err := readSizedPayload(br, low5)
		if err != nil {
			return variant.V{}, err
		}
		if idx >= uint64(len(consts)) || consts[idx] == pool.NoHandle {
			return variant.V{}, ErrBadConstRef
		}
		s, _, _ := p.Get(consts[idx])
		return variant.NewString(p, s), nil

	default:
		return variant.V{}, ErrReservedOpcode
	}
}

// decodeKeyToken decodes a map key, which must be a String or COPY_CONST
// token (§4.3: map keys are always strings). The returned handle has been
// interned (refcount +1) by this call; the caller must Decref it once the
// key has been handed to MapVal.Put (which takes its own reference).
func decodeKeyToken(br *bufio.Reader, p *pool.Pool, consts []pool.Handle, lead byte, opts Options) (pool.Handle, error) {
	op, low5 := splitLead(lead)
	switch op {
	case OpString:
		n, err := readSizedPayload(br, low5)
		if err != nil {
			return pool.NoHandle, err
		}
		if n > opts.MaxElementSize {
			return pool.NoHandle, ErrElementTooLarge
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return pool.NoHandle, ErrTruncated
		}
		return p.Intern(string(buf)), nil
	case OpCopyConst:
		idx, err := readSizedPayload(br, low5)
		if err != nil {
			return pool.NoHandle, err
		}
		if idx >= uint64(len(consts)) || consts[idx] == pool.NoHandle {
			return pool.NoHandle, ErrBadConstRef
		}
		s, _, _ := p.Get(consts[idx])
		return p.Intern(s), nil
	default:
		return pool.NoHandle, ErrKeyNotString
	}
}
