package middleware

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/http"
)

type client struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter from cfg.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
		ttl:     cfg.IdleTTL,
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is available it reports how long
// the client should wait.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.seen = now

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len returns the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *RateLimiter) sweep(now time.Time) {
	if l.ttl <= 0 || now.Sub(l.lastSweep) < l.ttl {
		return
	}
	l.lastSweep = now
	for key, c := range l.clients {
		if now.Sub(c.seen) > l.ttl {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects clients over their budget with 429 and Retry-After.
func (l *RateLimiter) Middleware() Middleware {
	return func(ctx context.Context, req *http.Request, next Next) (*http.Response, error) {
		ok, wait := l.Allow(clientIP(req.RemoteAddr))
		if !ok {
			retry := int(math.Ceil(wait.Seconds()))
			return nil, http.NewError(http.StatusTooManyRequests, "rate limit exceeded").
				WithHeader("Retry-After", seconds(max(retry, 1)))
		}
		return next(ctx, req)
	}
}
