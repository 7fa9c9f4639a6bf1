package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	archivist "github.com/avenor/archivist/internal"
	"github.com/avenor/archivist/internal/conditional"
)

// entry wraps a stored envelope with cache-internal bookkeeping. The
// access fields order LRU eviction and are never exposed to handlers.
type entry struct {
	env          *archivist.Envelope
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  uint64
	seq          uint64 // insertion order, breaks lastAccessed ties
	size         int64  // serialized payload bytes, best effort
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.createdAt.Add(e.env.TTL))
}

// Options configures a Memory cache. The zero value is usable.
type Options struct {
	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Memory is a mutex-guarded in-memory envelope cache. Every operation is
// atomic with respect to the others; none of them block on I/O. Eviction
// never triggers itself on Set -- callers (the maintenance worker) invoke
// EvictLRU explicitly, so a write burst is never interrupted by a surprise
// eviction scan.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	items  map[string]*entry
	seq    uint64
	hits   uint64
	misses uint64
	evicts uint64
	bytes  int64
}

// NewMemory creates an empty envelope cache.
func NewMemory(opts Options) *Memory {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:   now,
		items: make(map[string]*entry),
	}
}

// Get returns the stored envelope if present and unexpired. A found-but-
// expired entry is deleted and counted as a miss. A successful read counts
// a hit and bumps the entry's access statistics.
func (m *Memory) Get(key string) (*archivist.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, false
	}
	m.touch(e)
	return e.env, true
}

// GetConditional behaves as Get, but when the entry is present and valid
// it additionally evaluates the supplied conditional headers against the
// stored etag and last-modified time. notModified reports that the
// client's copy is still fresh; the envelope is returned either way so
// callers can emit validators without a second lookup, and the access
// counts as a hit in both cases.
func (m *Memory) GetConditional(key string, req conditional.Request) (env *archivist.Envelope, notModified, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.lookup(key)
	if !found {
		return nil, false, false
	}
	m.touch(e)
	if !req.Empty() && conditional.NotModified(e.env.ETag, e.env.LastModified, req) {
		return e.env, true, true
	}
	return e.env, false, true
}

// Set stores payload under key with the given TTL, unconditionally
// replacing any existing entry. The envelope's etag comes from meta when
// supplied, otherwise from a content hash over the canonical serialization
// of the payload; LastModified likewise defaults to the current time.
// A negative TTL or an unhashable payload is rejected. The stored envelope
// is returned so callers can serve it without a second lookup.
func (m *Memory) Set(key string, payload any, ttl time.Duration, meta *archivist.ResourceMeta) (*archivist.Envelope, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeTTL, ttl)
	}
	if meta == nil {
		meta = &archivist.ResourceMeta{}
	}

	etag, size, err := etagAndSize(payload, meta.ETag)
	if err != nil {
		return nil, fmt.Errorf("cache %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	lastModified := meta.LastModified
	if lastModified.IsZero() {
		lastModified = now
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	if old, ok := m.items[key]; ok {
		m.bytes -= old.size
	}
	env := &archivist.Envelope{
		Payload:      payload,
		ContentType:  contentType,
		LastModified: lastModified,
		CacheKey:     key,
		TTL:          ttl,
		ETag:         etag,
		Version:      meta.Version,
		Metadata:     meta.Extra,
	}
	m.seq++
	m.items[key] = &entry{
		env:          env,
		createdAt:    now,
		lastAccessed: now,
		seq:          m.seq,
		size:         size,
	}
	m.bytes += size
	return env, nil
}

// Has reports whether key is present and unexpired. An expired entry found
// during the check is deleted to keep the cache size accurate, but the
// probe touches no access statistics -- existence checks are not reads.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return false
	}
	if e.expired(m.now()) {
		m.remove(key, e)
		return false
	}
	return true
}

// Delete removes key unconditionally and reports whether it existed.
func (m *Memory) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return false
	}
	m.remove(key, e)
	return true
}

// Clear empties the cache and resets the hit/miss counters when pattern is
// empty. A non-empty pattern removes only keys containing that substring
// (plain substring match, no wildcards) and leaves the counters alone.
func (m *Memory) Clear(pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pattern == "" {
		m.items = make(map[string]*entry)
		m.hits, m.misses, m.bytes = 0, 0, 0
		return
	}
	for key, e := range m.items {
		if strings.Contains(key, pattern) {
			m.remove(key, e)
		}
	}
}

// Cleanup scans all entries, deletes the expired ones, and returns the
// number removed. It is meant to run on a periodic maintenance timer, off
// the request path.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.items {
		if e.expired(now) {
			m.remove(key, e)
			removed++
		}
	}
	return removed
}

// EvictLRU removes entries with the oldest last-access time until at most
// target remain, returning the number evicted. Ties break by insertion
// order. Nothing happens when the cache is already within target.
func (m *Memory) EvictLRU(target int) int {
	if target < 0 {
		target = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	excess := len(m.items) - target
	if excess <= 0 {
		return 0
	}

	type candidate struct {
		key string
		e   *entry
	}
	cands := make([]candidate, 0, len(m.items))
	for key, e := range m.items {
		cands = append(cands, candidate{key, e})
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i].e, cands[j].e
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.seq < b.seq
	})

	for _, c := range cands[:excess] {
		m.remove(c.key, c.e)
		m.evicts++
	}
	return excess
}

// Stats returns a snapshot of the cache counters. HitRate is 0 until the
// first lookup.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := Stats{
		TotalEntries:    len(m.items),
		ApproxSizeBytes: m.bytes,
		TotalHits:       m.hits,
		TotalMisses:     m.misses,
		Evictions:       m.evicts,
	}
	for _, e := range m.items {
		if e.expired(now) {
			s.ExpiredEntries++
		} else {
			s.ValidEntries++
		}
	}
	if total := s.TotalHits + s.TotalMisses; total > 0 {
		s.HitRate = float64(s.TotalHits) / float64(total)
	}
	return s
}

// lookup finds a live entry, handling expiry-on-read and miss accounting.
// Callers must hold m.mu.
func (m *Memory) lookup(key string) (*entry, bool) {
	e, ok := m.items[key]
	if !ok {
		m.misses++
		return nil, false
	}
	if e.expired(m.now()) {
		m.remove(key, e)
		m.misses++
		return nil, false
	}
	return e, true
}

// touch records a successful read. Callers must hold m.mu.
func (m *Memory) touch(e *entry) {
	m.hits++
	e.accessCount++
	e.lastAccessed = m.now()
}

// remove deletes an entry and releases its accounted size. Callers must
// hold m.mu.
func (m *Memory) remove(key string, e *entry) {
	delete(m.items, key)
	m.bytes -= e.size
}
