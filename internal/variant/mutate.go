package variant

import "github.com/kluzzebass/treeserve/internal/pool"

// SetBool, SetInt, SetUint, SetStr, SetPtr transmute v in place, releasing
// whatever it previously held against p first (§4.1 Mutation).

func (v *V) SetBool(p *pool.Pool, b bool) {
	v.Clear(p)
	*v = V{kind: Bool, b: b}
}

func (v *V) SetInt(p *pool.Pool, i int64) {
	v.Clear(p)
	*v = V{kind: Int, i: i}
}

func (v *V) SetUint(p *pool.Pool, u uint64) {
	v.Clear(p)
	*v = V{kind: Uint, u: u}
}

// SetFloat rejects NaN like NewFloat.
func (v *V) SetFloat(p *pool.Pool, f float64) error {
	nv, err := NewFloat(f)
	if err != nil {
		return err
	}
	v.Clear(p)
	*v = nv
	return nil
}

func (v *V) SetStr(p *pool.Pool, s string) {
	v.Clear(p)
	*v = NewString(p, s)
}

func (v *V) SetPtr(p *pool.Pool, payload uint64) {
	v.Clear(p)
	*v = NewPtr(payload)
}

func (v *V) SetRange(p *pool.Pool, spans []Span) {
	v.Clear(p)
	*v = NewRange(spans)
}

// MakeArray transmutes v into an empty Array with capacity n preallocated.
func (v *V) MakeArray(p *pool.Pool, n int) {
	v.Clear(p)
	*v = NewArray(n)
}

// MakeMap transmutes v into an empty Map with capacity prealloc preallocated.
func (v *V) MakeMap(p *pool.Pool, prealloc int) {
	v.Clear(p)
	*v = NewMap(prealloc)
}
