package pool

// blockAllocator amortizes small, fixed-size-class allocations the way the
// source's LuaAlloc-backed BlockAllocator does (see original_source's
// src/base/mem.h/.cpp): requests are rounded up to a size class and served
// from a per-class freelist instead of going through the general allocator
// on every call. Go's GC makes a from-scratch slab allocator unnecessary for
// correctness, but variant-owned arrays and map buckets churn through many
// same-sized slices during tree rebuilds, so pooling by size class still
// cuts allocator traffic.
type blockAllocator struct {
	classes map[int][][]byte
}

// classFor rounds n up to the nearest power-of-two size class, with a floor
// of 16 bytes (anything smaller isn't worth pooling).
func classFor(n int) int {
	if n <= 16 {
		return 16
	}
	c := 16
	for c < n {
		c <<= 1
	}
	return c
}

// Alloc returns a byte slice of length n, possibly reused from a freelist.
func (b *blockAllocator) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	c := classFor(n)
	if b.classes != nil {
		if free := b.classes[c]; len(free) > 0 {
			buf := free[len(free)-1]
			b.classes[c] = free[:len(free)-1]
			return buf[:n]
		}
	}
	return make([]byte, n, c)
}

// Free returns a slice to its size class's freelist for reuse.
func (b *blockAllocator) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	if b.classes == nil {
		b.classes = make(map[int][][]byte)
	}
	c := classFor(cap(buf))
	b.classes[c] = append(b.classes[c], buf[:0:cap(buf)])
}

// Realloc grows or shrinks buf to n bytes, reusing the existing backing
// array when it already has capacity.
func (b *blockAllocator) Realloc(buf []byte, n int) []byte {
	if n <= cap(buf) {
		return buf[:n]
	}
	next := b.Alloc(n)
	copy(next, buf)
	b.Free(buf)
	return next
}
