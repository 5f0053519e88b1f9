package sequence

import (
	"context"
	"sync"
)

// MemoryCounter keeps daily counters in process. Suitable for a single replica.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

// Increment bumps the counter for dateKey under the mutex.
func (c *MemoryCounter) Increment(ctx context.Context, dateKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[dateKey]++
	return c.counts[dateKey], nil
}

// Current returns the last issued value for dateKey, zero when none.
func (c *MemoryCounter) Current(dateKey string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[dateKey]
}
