// Package jsoncodec converts between variant.V trees and text JSON, the
// alternative serialization BJ is a compact stand-in for (§1, §4.5). It is
// the format external sources (§4.10) and the HTTP boundary's "encode"
// entry point (§6.6) both read and write when BJ isn't requested.
package jsoncodec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/kluzzebass/treeserve/internal/bj"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// maxDepth bounds recursion for both directions, matching bj's fuzz-safety
// posture for untrusted input (§4.5 "bounded depth").
const maxDepth = 64

var errTooDeep = fmt.Errorf("jsoncodec: nesting exceeds %d levels", maxDepth)

// Decode reads one JSON value from r and builds it as a variant.V backed by
// dstPool. Object keys are interned; numbers without a fractional part or
// exponent decode as Int, everything else as Float.
func Decode(r io.Reader, dstPool *pool.Pool) (variant.V, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return variant.V{}, fmt.Errorf("jsoncodec: decode: %w", err)
	}
	return fromAny(dstPool, raw, 0)
}

// DecodeAuto sniffs the first bytes of r for the BJ magic (§4.5) and
// dispatches to bj.Decode or Decode accordingly, so sources and request
// bodies can carry either format interchangeably (§4.10 "format
// autodetected between text JSON and BJ").
func DecodeAuto(r io.Reader, dstPool *pool.Pool) (variant.V, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return variant.V{}, fmt.Errorf("jsoncodec: peek: %w", err)
	}
	if bj.HasMagic(head) {
		return bj.Decode(br, dstPool, bj.DefaultOptions())
	}
	return Decode(br, dstPool)
}

func fromAny(p *pool.Pool, raw any, depth int) (variant.V, error) {
	if depth > maxDepth {
		return variant.V{}, errTooDeep
	}
	switch val := raw.(type) {
	case nil:
		return variant.NewNull(), nil
	case bool:
		return variant.NewBool(val), nil
	case json.Number:
		return numberToVariant(val)
	case string:
		return variant.NewString(p, val), nil
	case []any:
		arr := variant.NewArray(len(val))
		for _, elem := range val {
			v, err := fromAny(p, elem, depth+1)
			if err != nil {
				arr.Clear(p)
				return variant.V{}, err
			}
			arr.AppendElem(v)
		}
		return arr, nil
	case map[string]any:
		m := variant.NewMap(len(val))
		for k, elem := range val {
			v, err := fromAny(p, elem, depth+1)
			if err != nil {
				m.Clear(p)
				return variant.V{}, err
			}
			m.MapData().Put(p, p.Intern(k), v)
		}
		return m, nil
	default:
		return variant.V{}, fmt.Errorf("jsoncodec: unsupported JSON value type %T", raw)
	}
}

func numberToVariant(n json.Number) (variant.V, error) {
	if i, err := n.Int64(); err == nil {
		return variant.NewInt(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return variant.V{}, fmt.Errorf("jsoncodec: bad number %q: %w", n.String(), err)
	}
	v, err := variant.NewFloat(f)
	if err != nil {
		return variant.V{}, fmt.Errorf("jsoncodec: %w", err)
	}
	return v, nil
}

// Encode writes v (backed by p) as text JSON to w. Range and Ptr values
// have no JSON representation of their own: a Range is encoded as an array
// of [first,last] pairs and a Ptr as a number; a reified view result should
// never contain one.
func Encode(w io.Writer, p *pool.Pool, v *variant.V) error {
	bw := bufio.NewWriter(w)
	if err := encodeValue(bw, p, v, 0); err != nil {
		return err
	}
	return bw.Flush()
}

func encodeValue(w *bufio.Writer, p *pool.Pool, v *variant.V, depth int) error {
	if depth > maxDepth {
		return errTooDeep
	}
	switch v.Kind() {
	case variant.Null:
		_, err := w.WriteString("null")
		return err
	case variant.Bool:
		if v.Bool() {
			_, err := w.WriteString("true")
			return err
		}
		_, err := w.WriteString("false")
		return err
	case variant.Int:
		return writeJSONNumber(w, fmt.Sprintf("%d", v.IntVal()))
	case variant.Uint:
		return writeJSONNumber(w, fmt.Sprintf("%d", v.UintVal()))
	case variant.Float:
		return encodeFloat(w, v.FloatVal())
	case variant.String:
		s, _ := v.Str(p)
		return encodeString(w, s)
	case variant.Array:
		return encodeArray(w, p, v, depth)
	case variant.Map:
		return encodeMap(w, p, v, depth)
	case variant.Range:
		return encodeRange(w, v)
	case variant.Ptr:
		return writeJSONNumber(w, fmt.Sprintf("%d", v.PtrVal()))
	default:
		return fmt.Errorf("jsoncodec: unencodable kind %v", v.Kind())
	}
}

func writeJSONNumber(w *bufio.Writer, s string) error {
	_, err := w.WriteString(s)
	return err
}

func encodeFloat(w *bufio.Writer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		_, err := w.WriteString("null")
		return err
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func encodeString(w *bufio.Writer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func encodeArray(w *bufio.Writer, p *pool.Pool, v *variant.V, depth int) error {
	if err := w.WriteByte('['); err != nil {
		return err
	}
	for i := range v.Elems() {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := encodeValue(w, p, v.Elem(i), depth+1); err != nil {
			return err
		}
	}
	return w.WriteByte(']')
}

func encodeMap(w *bufio.Writer, p *pool.Pool, v *variant.V, depth int) error {
	if err := w.WriteByte('{'); err != nil {
		return err
	}
	first := true
	var iterErr error
	v.MapData().Iterate(func(e variant.Entry) bool {
		if !first {
			if err := w.WriteByte(','); err != nil {
				iterErr = err
				return false
			}
		}
		first = false
		keyStr, _, _ := p.Get(e.Key)
		if err := encodeString(w, keyStr); err != nil {
			iterErr = err
			return false
		}
		if err := w.WriteByte(':'); err != nil {
			iterErr = err
			return false
		}
		if err := encodeValue(w, p, e.Value, depth+1); err != nil {
			iterErr = err
			return false
		}
		return true
	})
	if iterErr != nil {
		return iterErr
	}
	return w.WriteByte('}')
}

func encodeRange(w *bufio.Writer, v *variant.V) error {
	if err := w.WriteByte('['); err != nil {
		return err
	}
	for i, s := range v.RangeVal() {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "[%d,%d]", s.First, s.Last); err != nil {
			return err
		}
	}
	return w.WriteByte(']')
}
