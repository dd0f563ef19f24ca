package bj

import (
	"bytes"
	"testing"

	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

func buildSample(p *pool.Pool) variant.V {
	m := variant.NewMap(0)
	m.MapData().Put(p, p.Intern("name"), variant.NewString(p, "erika"))
	m.MapData().Put(p, p.Intern("age"), variant.NewInt(41))
	m.MapData().Put(p, p.Intern("balance"), func() variant.V { v, _ := variant.NewFloat(-3.5); return v }())
	arr := variant.NewArray(3)
	arr.AppendElem(variant.NewInt(1))
	arr.AppendElem(variant.NewInt(2))
	arr.AppendElem(variant.NewInt(3))
	m.MapData().Put(p, p.Intern("tags"), arr)
	m.MapData().Put(p, p.Intern("active"), variant.NewBool(true))
	m.MapData().Put(p, p.Intern("nothing"), variant.NewNull())
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	srcPool := pool.New()
	src := buildSample(srcPool)

	var buf bytes.Buffer
	if err := Encode(&buf, srcPool, &src, DefaultOptions()); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dstPool := pool.New()
	got, err := Decode(&buf, dstPool, DefaultOptions())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !variant.Exact(srcPool, &src, dstPool, &got) {
		t.Fatalf("round-tripped value not exactly equal to source")
	}
}

func TestMagicAutodetection(t *testing.T) {
	srcPool := pool.New()
	src := buildSample(srcPool)

	var buf bytes.Buffer
	if err := Encode(&buf, srcPool, &src, DefaultOptions()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !HasMagic(buf.Bytes()) {
		t.Fatalf("encoded stream does not carry the BJ magic prefix")
	}
	if HasMagic([]byte(`{"a":1}`)) {
		t.Fatalf("JSON text must never be mistaken for BJ")
	}
	if HasMagic([]byte{0x01, 0x02}) {
		t.Fatalf("short input must never be mistaken for BJ")
	}
}

// TestConstantsTableDedup exercises S2: encoding {"a":"xx","b":"xx","c":"yy"}
// puts "xx" (referenced twice) into the constants table, but not "yy"
// (referenced once).
func TestConstantsTableDedup(t *testing.T) {
	p := pool.New()
	m := variant.NewMap(0)
	m.MapData().Put(p, p.Intern("a"), variant.NewString(p, "xx"))
	m.MapData().Put(p, p.Intern("b"), variant.NewString(p, "xx"))
	m.MapData().Put(p, p.Intern("c"), variant.NewString(p, "yy"))

	consts, idx, err := buildConstants(p, DefaultOptions())
	if err != nil {
		t.Fatalf("buildConstants: %v", err)
	}

	xxHandle, ok := p.Lookup("xx")
	if !ok {
		t.Fatalf("xx never interned")
	}
	if _, inTable := idx[xxHandle]; !inTable {
		t.Fatalf(`"xx" (refcount 2) must appear in the constants table`)
	}
	for _, cs := range consts {
		if cs.Bytes == "xx" && cs.Refcount != 2 {
			t.Fatalf(`expected "xx" refcount 2, got %d`, cs.Refcount)
		}
		if cs.Bytes == "yy" {
			t.Fatalf(`"yy" (refcount 1) must not appear in the constants table`)
		}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, p, &m, DefaultOptions()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	dstPool := pool.New()
	got, err := Decode(&buf, dstPool, DefaultOptions())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !variant.Exact(p, &m, dstPool, &got) {
		t.Fatalf("round trip through a deduplicated constants table lost data")
	}
}

// TestTruncatedMapFails exercises S6: a stream truncated in the middle of a
// map must fail decode and leave the caller with a Null variant, not a
// partially built tree.
func TestTruncatedMapFails(t *testing.T) {
	p := pool.New()
	m := variant.NewMap(0)
	m.MapData().Put(p, p.Intern("a"), variant.NewString(p, "hello"))
	m.MapData().Put(p, p.Intern("b"), variant.NewString(p, "world"))

	var buf bytes.Buffer
	if err := Encode(&buf, p, &m, DefaultOptions()); err != nil {
		t.Fatalf("encode: %v", err)
	}

	truncated := buf.Bytes()[:len(buf.Bytes())-3]
	dstPool := pool.New()
	got, err := Decode(bytes.NewReader(truncated), dstPool, DefaultOptions())
	if err == nil {
		t.Fatalf("expected decode of truncated stream to fail")
	}
	if got.Kind() != variant.Null {
		t.Fatalf("expected Null on decode failure, got kind=%v", got.Kind())
	}
}

// TestFuzzSafetyBoundedInputs feeds a spread of small random-ish byte
// strings through Decode and requires that it always terminates with either
// a value or an error, never panicking, on inputs up to 1 MiB (§8 property
// "decoder never panics or hangs on malicious/truncated/oversized input").
func TestFuzzSafetyBoundedInputs(t *testing.T) {
	seeds := [][]byte{
		nil,
		{0x00},
		Magic[:],
		append(append([]byte{}, Magic[:]...), leadByte(OpMap, inlineOverflow)),
		append(append([]byte{}, Magic[:]...), leadByte(OpArray, 5)),
		append(append([]byte{}, Magic[:]...), leadByte(OpCopyConst, 0)),
		bytes.Repeat([]byte{0xff}, 64),
		bytes.Repeat([]byte{leadByte(OpArray, inlineOverflow), 0xff, 0xff, 0xff, 0xff}, 200),
	}
	for i, seed := range seeds {
		p := pool.New()
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("seed %d: decode panicked: %v", i, r)
				}
			}()
			_, _ = Decode(bytes.NewReader(seed), p, DefaultOptions())
		}()
	}
}

func TestDeepNestingRejected(t *testing.T) {
	p := pool.New()
	var buf bytes.Buffer
	buf.Write(Magic[:])
	opts := Options{MaxDepth: 4}.withDefaults()
	for i := 0; i < 1000; i++ {
		buf.WriteByte(leadByte(OpArray, 1))
	}
	buf.WriteByte(leadByte(OpValue, valueNull))

	_, err := Decode(&buf, p, opts)
	if err != ErrDepthExceeded {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}
