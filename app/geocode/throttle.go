package geocode

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces provider calls to one per interval across every caller.
// Callers that arrive early wait rather than fail.
type Throttle struct {
	limiter *rate.Limiter
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next provider slot, returning the time spent
// waiting.
func (t *Throttle) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := t.limiter.Wait(ctx)
	return time.Since(start), err
}
