package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/family-comb/app/metrics"
)

const defaultIdleTTL = 10 * time.Minute

// RateLimiter is a token bucket per client IP. Buckets unused for idleTTL are
// evicted by the sweeper started with Start.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   clockwork.Clock
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*clientBucket

	stop chan struct{}
	wg   sync.WaitGroup
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing rps requests per second per
// client with the given burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, idleTTL time.Duration, clock clockwork.Clock, m *metrics.Metrics) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.NewMetricsForTesting()
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		clock:   clock,
		metrics: m,
		clients: make(map[string]*clientBucket),
	}
}

func (l *RateLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow reports whether key may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	now := l.clock.Now()

	l.mu.Lock()
	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		l.metrics.RateLimited.Inc()
	}
	return allowed
}

func (l *RateLimiter) Start() {
	if !l.Enabled() || l.stop != nil {
		return
	}
	l.stop = make(chan struct{})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := l.clock.NewTicker(l.idleTTL / 2)
		defer ticker.Stop()

		for {
			select {
			case <-l.stop:
				return
			case <-ticker.Chan():
				if n := l.evictIdle(); n > 0 {
					slog.Debug("Evicted idle rate limit buckets", "count", n)
				}
			}
		}
	}()
}

func (l *RateLimiter) Stop() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	l.wg.Wait()
	l.stop = nil
}

func (l *RateLimiter) evictIdle() int {
	cutoff := l.clock.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			evicted++
		}
	}
	return evicted
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects requests over the client's budget with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
