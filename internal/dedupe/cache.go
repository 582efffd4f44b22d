// ABOUTME: Bounded TTL set of delivery IDs for idempotent message handling
// ABOUTME: The delivery bridge claims each message ID once so broker redelivery is harmless

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Defaults used when Config fields are zero.
const (
	DefaultTTL        = 10 * time.Minute
	DefaultMaxEntries = 10000
	sweepInterval     = time.Minute
)

// Config sizes a Cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	// Now overrides time.Now, for tests.
	Now func() time.Time
}

type entry struct {
	claimedAt time.Time
	elem      *list.Element
}

// Cache remembers recently claimed IDs. When full, the oldest claim is
// evicted first; claims older than the TTL count as unseen.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*entry
	order   *list.List // oldest claim at front
	ttl     time.Duration
	max     int
	now     func() time.Time
	dropped uint64
}

// New creates a cache. Call Run to sweep expired claims in the background.
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		claims: make(map[string]*entry),
		order:  list.New(),
		ttl:    cfg.TTL,
		max:    cfg.MaxEntries,
		now:    cfg.Now,
	}
}

// Claim records id and reports whether this is its first live claim.
// A false return means the ID was already claimed within the TTL.
func (c *Cache) Claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.claims[id]; ok {
		if now.Sub(e.claimedAt) < c.ttl {
			c.dropped++
			return false
		}
		c.order.Remove(e.elem)
		delete(c.claims, id)
	}

	if len(c.claims) >= c.max {
		c.evictOldestLocked()
	}
	c.claims[id] = &entry{claimedAt: now, elem: c.order.PushBack(id)}
	return true
}

// Seen reports whether id holds a live claim without claiming it.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.claims[id]
	return ok && c.now().Sub(e.claimedAt) < c.ttl
}

// Forget drops a claim so the ID can be processed again.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.claims[id]; ok {
		c.order.Remove(e.elem)
		delete(c.claims, id)
	}
}

// Len returns the number of claims held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// Duplicates returns how many claims were rejected as duplicates.
func (c *Cache) Duplicates() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, id)
}

// Sweep removes expired claims. Claims are ordered by time, so it stops at
// the first live one.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id, _ := front.Value.(string)
		if now.Sub(c.claims[id].claimedAt) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.claims, id)
		removed++
	}
	return removed
}

// Run sweeps expired claims every minute until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
