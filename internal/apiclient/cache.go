package apiclient

import (
	"container/list"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL is also the staleness upper bound when push delivery fails:
	// a client that misses every broadcast still converges within this window.
	DefaultTTL = 5 * time.Minute

	DefaultMaxEntries    = 512
	DefaultSweepInterval = time.Minute
)

type cacheEntry struct {
	key       string
	value     *Envelope
	createdAt time.Time
	expiresAt time.Time
}

// Store is the in-process response cache keyed by request signature.
// Bounded in size (insertion-order eviction) and in time (TTL, checked lazily
// on read and swept periodically).
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // insertion order, oldest at front
	maxEntries int

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore builds a cache and starts its background sweep. Close must be
// called to stop the sweep loop.
func NewStore(maxEntries int, sweepInterval time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &Store{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// CacheKey derives the deterministic cache key for a request. Parameter names
// are sorted before concatenation so call-site ordering never causes a false
// miss, and names and values are escaped so a value containing '&' or '='
// cannot collide with a different parameter set.
func CacheKey(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
	}
	return b.String()
}

// Get returns the cached envelope, lazily expiring entries past their TTL.
func (s *Store) Get(key string) (*Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if !time.Now().Before(entry.expiresAt) {
		s.remove(elem)
		return nil, false
	}
	return entry.value, true
}

// Set inserts or overwrites an entry. At capacity the oldest insertion is
// evicted first; an overwrite counts as a fresh insertion.
func (s *Store) Set(key string, value *Envelope, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.createdAt = now
		entry.expiresAt = now.Add(ttl)
		s.order.MoveToBack(elem)
		return
	}

	if s.order.Len() >= s.maxEntries {
		if oldest := s.order.Front(); oldest != nil {
			s.remove(oldest)
		}
	}

	entry := &cacheEntry{key: key, value: value, createdAt: now, expiresAt: now.Add(ttl)}
	s.entries[key] = s.order.PushBack(entry)
}

// Invalidate removes every entry whose key contains the given substring and
// returns how many were removed.
func (s *Store) Invalidate(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if strings.Contains(elem.Value.(*cacheEntry).key, pattern) {
			s.remove(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Clear removes everything.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// remove must be called with the lock held.
func (s *Store) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(s.entries, entry.key)
	s.order.Remove(elem)
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes every expired entry in one critical section, so readers never
// observe a half-evicted pass.
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if !now.Before(elem.Value.(*cacheEntry).expiresAt) {
			s.remove(elem)
		}
		elem = next
	}
}
