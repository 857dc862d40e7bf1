package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDedupeObserve(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewDedupeCache(60*time.Second, 100)
	c.now = func() time.Time { return clock }

	if !c.Observe("ev-1") {
		t.Fatal("first observe should accept")
	}
	if c.Observe("ev-1") {
		t.Fatal("second observe within TTL should reject")
	}

	clock = clock.Add(30 * time.Second)
	if c.Observe("ev-1") {
		t.Fatal("duplicate at 30s should still reject")
	}

	// The duplicate at 30s must not have extended the window.
	clock = clock.Add(31 * time.Second)
	if !c.Observe("ev-1") {
		t.Fatal("observe after TTL should accept again")
	}
}

func TestDedupeDistinctIDs(t *testing.T) {
	c := NewDedupeCache(60*time.Second, 100)
	if !c.Observe("a") || !c.Observe("b") {
		t.Fatal("distinct ids should both accept")
	}
	if c.Observe("a") || c.Observe("b") {
		t.Fatal("repeats should reject")
	}
}

func TestDedupeSweep(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewDedupeCache(60*time.Second, 10)
	c.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		c.Observe(fmt.Sprintf("old-%d", i))
	}
	if got := c.Len(); got != 10 {
		t.Fatalf("Len = %d, want 10", got)
	}

	// Once the old entries expire, the next over-threshold insert sweeps them.
	clock = clock.Add(61 * time.Second)
	c.Observe("fresh")
	if got := c.Len(); got != 1 {
		t.Fatalf("Len after sweep = %d, want 1", got)
	}
}

func TestDedupeConcurrent(t *testing.T) {
	c := NewDedupeCache(60*time.Second, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Observe("same-event") {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted %d observers for one event id, want 1", accepted)
	}
}
