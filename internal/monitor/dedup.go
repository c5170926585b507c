package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore decides whether an alert may be raised for a triggering window.
// A claim is granted only when no alert for the same rule has been dispatched
// for an overlapping window.
type DedupStore interface {
	Claim(ctx context.Context, ruleKey string, windowStart, windowEnd time.Time) (bool, error)
}

// MemoryDedup remembers the end of the last claimed window per rule.
type MemoryDedup struct {
	mu      sync.Mutex
	lastEnd map[string]time.Time
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{lastEnd: make(map[string]time.Time)}
}

func (d *MemoryDedup) Claim(_ context.Context, ruleKey string, windowStart, windowEnd time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastEnd[ruleKey]; ok && windowStart.Before(last) {
		return false, nil
	}
	d.lastEnd[ruleKey] = windowEnd
	return true, nil
}

// RedisDedup shares claims between monitor replicas. The claim key lives for
// one window length, so the next claim succeeds once the windows no longer
// overlap.
type RedisDedup struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDedup(client redis.UniversalClient, prefix string) *RedisDedup {
	if prefix == "" {
		prefix = "auditgate:alert:"
	}
	return &RedisDedup{client: client, prefix: prefix}
}

func (d *RedisDedup) Claim(ctx context.Context, ruleKey string, windowStart, windowEnd time.Time) (bool, error) {
	ttl := windowEnd.Sub(windowStart)
	if ttl <= 0 {
		return false, fmt.Errorf("empty window for rule %q", ruleKey)
	}
	ok, err := d.client.SetNX(ctx, d.prefix+ruleKey, windowEnd.UnixNano(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim alert window: %w", err)
	}
	return ok, nil
}
