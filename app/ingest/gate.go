package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// gate spaces the jobs of one upstream class. A job may start no sooner than
// delay after the previous start and after the previous completion.
type gate struct {
	clock clockwork.Clock
	delay time.Duration

	mu   sync.Mutex
	next time.Time
}

func newGate(clock clockwork.Clock, delay time.Duration) *gate {
	return &gate{clock: clock, delay: delay}
}

func (g *gate) acquire(ctx context.Context) error {
	if g.delay <= 0 {
		return nil
	}

	g.mu.Lock()
	now := g.clock.Now()
	start := now
	if g.next.After(now) {
		start = g.next
	}
	g.next = start.Add(g.delay)
	g.mu.Unlock()

	return sleep(ctx, g.clock, start.Sub(now))
}

func (g *gate) release() {
	if g.delay <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if after := g.clock.Now().Add(g.delay); after.After(g.next) {
		g.next = after
	}
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
