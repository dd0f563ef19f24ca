package replycache

import (
	"sync"
	"time"

	"github.com/kluzzebass/treeserve/internal/support"
)

// slot holds one cached reply plus the fingerprint it was stored under
// and its absolute expiry. A zero-value slot (entry == nil) is empty.
type slot struct {
	fp     Fingerprint
	entry  *Entry
	expiry int64 // UnixNano; stale entries are ignored on read, not proactively purged
}

// Cache is the fixed-size rows×cols reply grid (§4.11). Reads take the
// shared lock for a bucket's linear scan; writes take the exclusive lock
// only long enough to pick a slot and install the new entry — the lock
// never guards the (already-completed) serialization work that produced
// the Entry.
type Cache struct {
	mu   sync.RWMutex
	grid [][]slot
	rows int
	cols int
	rng  *support.LockedXorshift64
	now  func() time.Time
}

// Config sizes a Cache.
type Config struct {
	Rows int
	Cols int
	Now  func() time.Time // defaults to time.Now
}

// New builds an empty Cache.
func New(cfg Config) *Cache {
	if cfg.Rows <= 0 {
		cfg.Rows = 1
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	grid := make([][]slot, cfg.Rows)
	for i := range grid {
		grid[i] = make([]slot, cfg.Cols)
	}
	return &Cache{
		grid: grid,
		rows: cfg.Rows,
		cols: cfg.Cols,
		rng:  support.NewLockedXorshift64(),
		now:  cfg.Now,
	}
}

// Get returns the cached Entry for req, or (nil, false) on a miss or an
// expired hit (§4.11 "stale entries are ignored on read").
func (c *Cache) Get(req Request) (*Entry, bool) {
	fp := req.Fingerprint()
	row := fp.bucket(c.rows)

	c.mu.RLock()
	defer c.mu.RUnlock()

	nowNS := c.now().UnixNano()
	for _, s := range c.grid[row] {
		if s.entry == nil || s.fp != fp {
			continue
		}
		if s.expiry != 0 && nowNS >= s.expiry {
			return nil, false
		}
		return s.entry, true
	}
	return nil, false
}

// Put installs entry under req's fingerprint with an absolute expiry
// ttl from now. If the bucket has a free slot, or one already holding
// this fingerprint, that slot is reused; otherwise a random column is
// evicted (§4.11 "on miss, evict a random column using a small xorshift
// PRNG").
func (c *Cache) Put(req Request, entry *Entry, ttl time.Duration) {
	fp := req.Fingerprint()
	row := fp.bucket(c.rows)
	var expiry int64
	if ttl > 0 {
		expiry = c.now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cols := c.grid[row]
	idx := -1
	for i, s := range cols {
		if s.entry == nil || s.fp == fp {
			idx = i
			break
		}
	}
	if idx == -1 {
		idx = c.rng.Intn(len(cols))
	}
	cols[idx] = slot{fp: fp, entry: entry, expiry: expiry}
}

// Rows and Cols report the cache's fixed dimensions.
func (c *Cache) Rows() int { return c.rows }
func (c *Cache) Cols() int { return c.cols }
