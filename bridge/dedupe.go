package bridge

import (
	"container/list"
	"sync"
	"time"
)

type dedupeEntry struct {
	key       string
	expiresAt time.Time
}

// dedupeCache remembers recently admitted message keys for a fixed TTL
// and holds at most max entries, evicting the oldest insertion when full.
// The TTL is constant, so insertion order doubles as expiry order and
// both eviction and sweeping work off the front of the list.
type dedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]*list.Element
	order   *list.List
}

func newDedupeCache(ttl time.Duration, max int) *dedupeCache {
	return &dedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Admit records key and reports whether it was newly admitted. A second
// Admit of the same key within the TTL returns admitted=false. evicted is
// true when inserting pushed out an unexpired entry to stay under max.
func (c *dedupeCache) Admit(key string, now time.Time) (admitted, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*dedupeEntry)
		if now.Before(entry.expiresAt) {
			return false, false
		}
		c.order.Remove(el)
		delete(c.entries, key)
	}

	c.expireFrontLocked(now)
	for c.max > 0 && c.order.Len() >= c.max {
		front := c.order.Front()
		if front == nil {
			break
		}
		delete(c.entries, front.Value.(*dedupeEntry).key)
		c.order.Remove(front)
		evicted = true
	}

	el := c.order.PushBack(&dedupeEntry{key: key, expiresAt: now.Add(c.ttl)})
	c.entries[key] = el
	return true, evicted
}

// Sweep drops expired entries and returns how many were removed.
func (c *dedupeCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireFrontLocked(now)
}

func (c *dedupeCache) expireFrontLocked(now time.Time) int {
	removed := 0
	for {
		front := c.order.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*dedupeEntry)
		if now.Before(entry.expiresAt) {
			break
		}
		delete(c.entries, entry.key)
		c.order.Remove(front)
		removed++
	}
	return removed
}

func (c *dedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *dedupeCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
}
