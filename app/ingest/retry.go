package ingest

import (
	"time"

	"github.com/lysyi3m/family-comb/app/source"
)

type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Second, Max: 8 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max < p.Initial {
		p.Max = max(d.Max, p.Initial)
	}
	return p
}

// backoff returns the wait before the attempt following attempt n (1-based).
// A Retry-After hint longer than the exponential delay wins, up to Max.
func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	delay := p.Initial
	for i := 1; i < attempt && delay < p.Max; i++ {
		delay *= 2
	}
	if hint := source.RetryAfter(err); hint > delay {
		delay = hint
	}
	return min(delay, p.Max)
}
