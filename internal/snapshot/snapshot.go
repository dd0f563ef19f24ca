// Package snapshot provides best-effort on-disk persistence of a tree
// using the BJ codec (§1 Non-goals: "is not a durable database" —
// best-effort snapshot save/load is explicitly in scope). Grounded on
// original_source/src/maiden/mxsources.cpp's save()/load(), which wrap
// BJ with ZSTD the same way. Every file opens with a format.Header so a
// reader can reject a corrupt or future-versioned snapshot before it
// ever reaches the zstd/BJ decoder.
package snapshot

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/kluzzebass/treeserve/internal/bj"
	"github.com/kluzzebass/treeserve/internal/format"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/treeop"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// fileName is the on-disk snapshot name within a "sources.directory"
// (§6.5), matching the original's "mxsources.mxs".
const fileName = "treeserve.snapshot"

// version is the snapshot file format version, bumped whenever the
// header's meaning or the bytes behind it change incompatibly.
const version = 1

// Save writes t's current contents to dir/fileName, zstd-compressed.
// Callers decide when this runs (it is not on any request or ingest
// path); failures are returned, not fatal to the caller.
func Save(t *tree.Tree, dir string) error {
	path := dir + "/" + fileName
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create %q: %w", path, err)
	}
	defer f.Close()

	hdr := format.Header{Type: format.TypeTreeSnapshot, Version: version}.Encode()
	if _, err := f.Write(hdr[:]); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("snapshot: zstd writer: %w", err)
	}

	var encodeErr error
	t.WithRLock(func(p *pool.Pool, root *variant.V) {
		encodeErr = bj.Encode(zw, p, root, bj.DefaultOptions())
	})
	if closeErr := zw.Close(); encodeErr == nil {
		encodeErr = closeErr
	}
	if encodeErr != nil {
		return fmt.Errorf("snapshot: encode: %w", encodeErr)
	}
	return nil
}

// Load reads dir/fileName and merges it, flattened, into t, replacing
// whatever t held before. Returns an error (including a plain "file not
// found") that callers should treat as "no snapshot available" rather
// than fatal.
func Load(t *tree.Tree, dir string) error {
	path := dir + "/" + fileName
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("snapshot: open %q: %w", path, err)
	}
	defer f.Close()

	var hdrBuf [format.HeaderSize]byte
	if _, err := io.ReadFull(f, hdrBuf[:]); err != nil {
		return fmt.Errorf("snapshot: read header: %w", err)
	}
	if _, err := format.DecodeAndValidate(hdrBuf[:], format.TypeTreeSnapshot, version); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("snapshot: zstd reader: %w", err)
	}
	defer zr.Close()

	srcPool := pool.New()
	loaded, err := bj.Decode(zr, srcPool, bj.DefaultOptions())
	if err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	defer loaded.Clear(srcPool)

	var mergeErr error
	t.WithLock(func(p *pool.Pool, root *variant.V) {
		root.Clear(p)
		mergeErr = treeop.Merge(srcPool, &loaded, p, root, treeop.FlagFlat)
	})
	if mergeErr != nil {
		return fmt.Errorf("snapshot: merge: %w", mergeErr)
	}
	return nil
}
