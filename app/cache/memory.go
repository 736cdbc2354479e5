package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are dropped lazily on read
// and swept on write once the map grows past maxEntries.
type Memory struct {
	clock      clockwork.Clock
	maxEntries int

	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ Cache = (*Memory)(nil)

func NewMemory(clock clockwork.Clock, maxEntries int) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:      clock,
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
	}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.sweep(now)
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictSoonest()
	}

	c.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *Memory) Health(_ context.Context) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"status":    "healthy",
		"type":      "memory",
		"key_count": len(c.entries),
	}
}

func (c *Memory) Close() error {
	return nil
}

func (c *Memory) sweep(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *Memory) evictSoonest() {
	var (
		victim string
		soon   time.Time
	)
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soon) {
			victim, soon = k, e.expiresAt
		}
	}
	delete(c.entries, victim)
}
