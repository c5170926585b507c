package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request from identifier may proceed.
type Limiter interface {
	Allow(identifier string) bool
}

// InMemoryRateLimiter keeps one token bucket per identifier. Buckets unused
// for longer than idle are evicted, so a returning client starts full.
type InMemoryRateLimiter struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	clients *cache.Cache
}

var _ Limiter = (*InMemoryRateLimiter)(nil)

func NewInMemoryRateLimiter(r rate.Limit, b int, idle time.Duration) *InMemoryRateLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &InMemoryRateLimiter{
		rate:    r,
		burst:   b,
		clients: cache.New(idle, 2*idle),
	}
}

func (l *InMemoryRateLimiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.clients.Get(identifier); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.rate, l.burst)
	}
	// Refresh the idle deadline on every use.
	l.clients.SetDefault(identifier, limiter)
	return limiter.Allow()
}

// Tracked returns the number of identifiers with a live bucket.
func (l *InMemoryRateLimiter) Tracked() int {
	return l.clients.ItemCount()
}
