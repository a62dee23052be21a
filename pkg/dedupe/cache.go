package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries caps the number of remembered keys.
const DefaultMaxEntries = 10_000

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers recently seen keys for a TTL, evicting the oldest key once full.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Seen reports whether key was marked within the TTL. Unseen or expired keys
// are marked as a side effect, so a second call with the same key returns true.
func (c *Cache) Seen(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if _, ok := c.items[key]; ok {
		return true
	}

	if len(c.items) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.items, front.Value.(*entry).key)
		}
	}
	c.items[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false
}

// Len reports the number of live keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(c.now())
	return len(c.items)
}

// expireLocked drops entries older than the TTL. Entries are kept in insertion
// order, so it stops at the first live one.
func (c *Cache) expireLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.items, e.key)
	}
}
