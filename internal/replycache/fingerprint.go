// Package replycache implements the optional response cache (§4.11): a
// fixed-size grid of slots keyed by a hashed Request fingerprint, with
// random-column eviction on miss and per-entry absolute-timestamp TTL.
package replycache

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Request names the fields §4.11 says the fingerprint is built from: "URI
// suffix, accept-encoding choice, pretty flag, output format, method,
// authorization header".
type Request struct {
	URISuffix  string
	AcceptEnc  string
	Pretty     bool
	Format     string // "json" or "bj"
	Method     string
	AuthHeader string
}

// Fingerprint is a fixed-size digest of a Request, cheap to hash into a
// bucket and to compare for an exact match within a bucket.
type Fingerprint [blake2b.Size256]byte

// Fingerprint hashes r with blake2b-256 (SPEC_FULL.md §3: non-cryptographic
// strength is fine, but the teacher's module already carries
// golang.org/x/crypto, so we reuse it rather than hand-rolling FNV).
func (r Request) Fingerprint() Fingerprint {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URISuffix))
	h.Write([]byte{0})
	h.Write([]byte(r.AcceptEnc))
	h.Write([]byte{0})
	h.Write([]byte(r.Format))
	h.Write([]byte{0})
	h.Write([]byte(r.AuthHeader))
	h.Write([]byte{0})
	if r.Pretty {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// bucket selects a grid row from a Fingerprint. It reads the first 8
// fingerprint bytes as a little-endian integer, matching the "hash the
// fingerprint, mod by row count" bucket-selection scheme of §4.11.
func (f Fingerprint) bucket(rows int) int {
	n := binary.LittleEndian.Uint64(f[:8])
	return int(n % uint64(rows))
}
