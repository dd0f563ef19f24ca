package variant

import (
	"sync"
	"time"

	"github.com/kluzzebass/treeserve/internal/pool"
)

// Fetcher lazily populates a Map on miss. Implementations are expected to
// hold their own memory pool and clone results into the owning tree's pool
// (§6.2). Destroy must be refcount-safe: it releases whatever resources the
// fetcher itself owns, independent of the Map it was attached to.
type Fetcher interface {
	FetchOne(key string) (V, error)
	FetchAll() (V, error)
	Destroy()
}

// Extra is the optional per-Map metadata record described in §3.4. It is
// created lazily on first need (Extra(), SetExpiry) and destroyed with its
// owning Map.
type Extra struct {
	mu sync.RWMutex // upgradeable-lock stand-in: readers take RLock, a fetch escalates to Lock (§9 "Upgradeable mutex on Map Extras")

	expiryTS  int64 // absolute ms timestamp; 0 = never
	fetcher   Fetcher
	dataValid bool

	fetchMu sync.Mutex // serializes concurrent external fetch calls
}

// EnsureFresh implements the double-checked-locking pattern from DESIGN
// NOTES §9: it re-validates staleness under a read lock first, and only
// escalates to the exclusive lock (and the fetcher's own serializing mutex)
// when a fetch is actually required. now is injectable for tests.
//
// refill is called with neither lock held and must install the new data
// into the owning Map itself; EnsureFresh only tracks the validity flag.
func (e *Extra) EnsureFresh(now func() time.Time, refill func() error) error {
	e.mu.RLock()
	stale := !e.dataValid || (e.expiryTS != 0 && now().UnixMilli() >= e.expiryTS)
	e.mu.RUnlock()
	if !stale {
		return nil
	}

	// The fetcher's own mutex single-threads the actual external call so
	// concurrent readers racing on the same stale key don't all fetch.
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	// Re-check after acquiring the fetch mutex: another goroutine may have
	// already refreshed the data while we waited.
	e.mu.RLock()
	stillStale := !e.dataValid || (e.expiryTS != 0 && now().UnixMilli() >= e.expiryTS)
	e.mu.RUnlock()
	if !stillStale {
		return nil
	}

	if err := refill(); err != nil {
		return err
	}

	e.mu.Lock()
	e.dataValid = true
	e.mu.Unlock()
	return nil
}

// InstallFetcher attaches f to the Extra, replacing (and destroying) any
// previous fetcher.
func (e *Extra) InstallFetcher(f Fetcher) {
	e.mu.Lock()
	old := e.fetcher
	e.fetcher = f
	e.dataValid = false
	e.mu.Unlock()
	if old != nil {
		old.Destroy()
	}
}

// SetExpiry sets the absolute expiry timestamp in ms (0 = never).
func (e *Extra) SetExpiry(tsMillis int64) {
	e.mu.Lock()
	e.expiryTS = tsMillis
	e.mu.Unlock()
}

// Invalidate marks the Extra's data stale, forcing the next EnsureFresh to refetch.
func (e *Extra) Invalidate() {
	e.mu.Lock()
	e.dataValid = false
	e.mu.Unlock()
}

func (e *Extra) destroy() {
	if e.fetcher != nil {
		e.fetcher.Destroy()
	}
}

// MapVal is the backing storage for a Map variant: a small open hash table
// keyed on pool.Handle (handle equality implies string equality within one
// pool, so there is no need to hash bytes — §4.3). Values are stored behind
// pointers so that path-walk and VM code can mutate a child in place without
// a separate write-back step (Go maps do not hand out addressable values).
type MapVal struct {
	entries map[pool.Handle]*V
	order   []pool.Handle // insertion order; iteration order is otherwise unspecified per spec
	extra   *Extra
}

func newMapVal(prealloc int) *MapVal {
	return &MapVal{entries: make(map[pool.Handle]*V, prealloc)}
}

// Extra lazily creates and returns the Map's Extra record.
func (m *MapVal) Extra() *Extra {
	if m.extra == nil {
		m.extra = &Extra{}
	}
	return m.extra
}

// HasExtra reports whether an Extra has been created for this map.
func (m *MapVal) HasExtra() bool { return m.extra != nil }

// Len returns the number of keys currently stored.
func (m *MapVal) Len() int { return len(m.entries) }

// Put inserts or replaces the value under key (a pool.Handle already
// interned into the owning pool). On first insertion the key's refcount is
// incremented; on replacement, the old value is cleared against p first
// (§4.3).
func (m *MapVal) Put(p *pool.Pool, key pool.Handle, value V) {
	if old, ok := m.entries[key]; ok {
		old.Clear(p)
		*old = value
		return
	}
	p.Incref(key)
	m.order = append(m.order, key)
	box := new(V)
	*box = value
	m.entries[key] = box
}

// PutKey interns bytes into p, then returns a pointer to the (possibly
// default-constructed) value slot for that key — §4.3 put_key.
func (m *MapVal) PutKey(p *pool.Pool, bytes string) *V {
	key := p.Inject(bytes)
	if box, ok := m.entries[key]; ok {
		return box
	}
	p.Incref(key)
	m.order = append(m.order, key)
	box := new(V)
	m.entries[key] = box
	return box
}

// GetNoFetch looks up key without triggering any fetcher.
func (m *MapVal) GetNoFetch(key pool.Handle) (*V, bool) {
	box, ok := m.entries[key]
	return box, ok
}

// Get looks up key, triggering the Map's fetcher (if any, via Extra) when
// the key is absent. now defaults to time.Now when nil.
func (m *MapVal) Get(p *pool.Pool, key pool.Handle, now func() time.Time) (*V, bool) {
	if box, ok := m.entries[key]; ok {
		return box, true
	}
	if m.extra == nil || m.extra.fetcher == nil {
		return nil, false
	}
	if now == nil {
		now = time.Now
	}
	keyBytes, _, _ := p.Get(key)
	_ = m.extra.EnsureFresh(now, func() error {
		val, ferr := m.extra.fetcher.FetchOne(keyBytes)
		if ferr != nil {
			return ferr
		}
		m.Put(p, key, val)
		return nil
	})
	box, ok := m.entries[key]
	return box, ok
}

// GetOrCreate inserts Null if key is missing and returns a pointer to the slot.
func (m *MapVal) GetOrCreate(p *pool.Pool, key pool.Handle) *V {
	if box, ok := m.entries[key]; ok {
		return box
	}
	p.Incref(key)
	m.order = append(m.order, key)
	box := new(V)
	m.entries[key] = box
	return box
}

// Delete removes key, clearing its value and decreffing the key handle.
func (m *MapVal) Delete(p *pool.Pool, key pool.Handle) {
	box, ok := m.entries[key]
	if !ok {
		return
	}
	box.Clear(p)
	delete(m.entries, key)
	p.Decref(key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Entry pairs a key handle with a pointer to its value, yielded by Iterate.
type Entry struct {
	Key   pool.Handle
	Value *V
}

// Iterate yields (key-handle, &value) pairs; order is unspecified (§4.3).
func (m *MapVal) Iterate(yield func(Entry) bool) {
	for _, k := range m.order {
		if box, ok := m.entries[k]; ok {
			if !yield(Entry{Key: k, Value: box}) {
				return
			}
		}
	}
}

func (m *MapVal) clear(p *pool.Pool) {
	for k, box := range m.entries {
		box.Clear(p)
		p.Decref(k)
	}
	m.entries = nil
	m.order = nil
	if m.extra != nil {
		m.extra.destroy()
		m.extra = nil
	}
}
