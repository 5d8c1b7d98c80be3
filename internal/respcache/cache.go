// Package respcache caches raw upstream DNS response bytes keyed by
// (qname, qtype), so a repeated query can be answered without a second
// upstream round trip (§4.4). It reuses the teacher's generic TTL-aware
// LRU design (internal/resolvers/cache.go) specialized to a byte-slice
// value, plus a policy layer (policy.go) deciding which responses are
// eligible for caching at all.
package respcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jroosing/hydraflow/internal/dnswire"
)

// Key identifies a cached response by canonicalized qname and query type.
type Key struct {
	QName string
	QType dnswire.RecordType
}

type entry struct {
	key       Key
	response  []byte
	cachedAt  time.Time
	expiresAt time.Time
	elem      *list.Element
}

// DefaultCapacity is the cache's default maximum entry count.
const DefaultCapacity = 10000

// SweepInterval is how often Sweep should be called to proactively
// evict expired entries (§4.4: "periodic sweep (every 5 min)").
const SweepInterval = 5 * time.Minute

// Cache is a thread-safe, TTL-aware LRU cache of raw DNS response bytes.
type Cache struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List
	data     map[Key]*entry

	hits, misses int
}

// New creates a response cache with the given capacity, defaulting to
// DefaultCapacity when capacity <= 0.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		lru:      list.New(),
		data:     make(map[Key]*entry),
	}
}

// Get returns the cached response for key and its age, if present and
// unexpired. Expired entries are evicted lazily on read.
func (c *Cache) Get(key Key) ([]byte, time.Duration, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.data[key]
	if e == nil {
		c.misses++
		return nil, 0, false
	}
	if !e.expiresAt.After(now) {
		c.removeLocked(key, e)
		c.misses++
		return nil, 0, false
	}

	c.lru.MoveToBack(e.elem)
	c.hits++
	return e.response, now.Sub(e.cachedAt), true
}

// Set stores response under key with the given TTL, evicting the least
// recently used entry if the cache is over capacity.
func (c *Cache) Set(key Key, response []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.data[key]; existing != nil {
		existing.response = response
		existing.cachedAt = now
		existing.expiresAt = now.Add(ttl)
		c.lru.MoveToBack(existing.elem)
		return
	}

	e := &entry{key: key, response: response, cachedAt: now, expiresAt: now.Add(ttl)}
	e.elem = c.lru.PushBack(key)
	c.data[key] = e

	for len(c.data) > c.capacity {
		front := c.lru.Front()
		if front == nil {
			break
		}
		k := front.Value.(Key)
		c.lru.Remove(front)
		delete(c.data, k)
	}
}

// Sweep removes every expired entry, regardless of whether it would
// otherwise be found by a lazy Get. Intended to be called on a timer
// (SweepInterval) so entries no client ever re-requests don't linger.
func (c *Cache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		key := el.Value.(Key)
		e := c.data[key]
		if e != nil && !e.expiresAt.After(now) {
			c.lru.Remove(el)
			delete(c.data, key)
			removed++
		}
		el = next
	}
	return removed
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear empties the cache, used by the rule update orchestrator after a
// manifest merge-and-publish since any cached answer may now reflect a
// stale block/allow decision (§4.7).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.data = map[Key]*entry{}
}

func (c *Cache) removeLocked(key Key, e *entry) {
	c.lru.Remove(e.elem)
	delete(c.data, key)
}

// Serve rewrites a cached response for delivery to a specific client:
// its transaction ID is patched to transactionID and its TTLs are
// decremented by the entry's age in cache, floored at 1 second, so the
// client sees a TTL consistent with how long the answer has already sat
// in cache (§4.4).
func Serve(response []byte, age time.Duration, transactionID uint16) ([]byte, error) {
	out, err := dnswire.DecrementTTLByAge(response, uint32(age/time.Second))
	if err != nil {
		return nil, err
	}
	return dnswire.PatchTransactionID(out, transactionID), nil
}
