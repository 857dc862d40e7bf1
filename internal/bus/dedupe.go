package bus

import (
	"sync"
	"time"
)

const (
	// DedupeTTL is how long a seen event id suppresses retransmissions.
	DedupeTTL = 60 * time.Second

	// dedupeSweepThreshold triggers a lazy sweep of expired entries.
	// Keeps memory bounded without a background timer.
	dedupeSweepThreshold = 100
)

// DedupeCache suppresses retransmitted inbound events. Feishu redelivers an
// event when the handler does not acknowledge fast enough, so the first
// thing the orchestrator does is check the event id here.
//
// Entries live for the TTL measured from first sight; duplicates do not
// extend the window. The cache is process-local: a restart forgets all
// entries, which is the accepted at-most-once trade-off.
type DedupeCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	limit int
	seen  map[string]time.Time
	now   func() time.Time // overridable in tests
}

// NewDedupeCache creates a cache with the given TTL and sweep threshold.
func NewDedupeCache(ttl time.Duration, limit int) *DedupeCache {
	if ttl <= 0 {
		ttl = DedupeTTL
	}
	if limit <= 0 {
		limit = dedupeSweepThreshold
	}
	return &DedupeCache{
		ttl:   ttl,
		limit: limit,
		seen:  make(map[string]time.Time),
		now:   time.Now,
	}
}

// Observe records an event id. It returns true the first time an id is seen
// (or again after the TTL has elapsed) and false for a duplicate within the
// window. Safe for concurrent use.
func (c *DedupeCache) Observe(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if first, ok := c.seen[eventID]; ok && now.Sub(first) < c.ttl {
		return false
	}
	c.seen[eventID] = now

	if len(c.seen) > c.limit {
		c.sweepLocked(now)
	}
	return true
}

// Len reports the number of tracked entries.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *DedupeCache) sweepLocked(now time.Time) {
	for id, first := range c.seen {
		if now.Sub(first) >= c.ttl {
			delete(c.seen, id)
		}
	}
}
