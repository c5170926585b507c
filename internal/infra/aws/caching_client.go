package aws

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/spounge-ai/auditgate/internal/domain"
	"github.com/spounge-ai/auditgate/internal/remote"
)

// cachedOperations are read-only and safe to answer from cache.
var cachedOperations = map[string]bool{
	remote.OpDescribeKey: true,
	remote.OpHead:        true,
}

// CachingClient adds a caching layer for read-only operations around another
// client. Writes to an object drop its cached head.
type CachingClient struct {
	next  domain.RemoteClient
	cache *cache.Cache
}

func NewCachingClient(next domain.RemoteClient, ttl time.Duration) *CachingClient {
	return &CachingClient{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachingClient) Invoke(ctx context.Context, op string, params map[string]any) (any, error) {
	if !cachedOperations[op] {
		out, err := c.next.Invoke(ctx, op, params)
		if err == nil && (op == remote.OpPut || op == remote.OpDelete) {
			c.cache.Delete(cacheKey(remote.OpHead, map[string]any{
				"bucket": params["bucket"],
				"key":    params["key"],
			}))
		}
		return out, err
	}

	key := cacheKey(op, params)
	if out, found := c.cache.Get(key); found {
		return out, nil
	}

	out, err := c.next.Invoke(ctx, op, params)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, out, cache.DefaultExpiration)
	return out, nil
}

func (c *CachingClient) Close(ctx context.Context) error {
	c.cache.Flush()
	return c.next.Close(ctx)
}

func cacheKey(op string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(op)
	for _, name := range slices.Sorted(maps.Keys(params)) {
		fmt.Fprintf(&b, "|%s=%v", name, params[name])
	}
	return b.String()
}
