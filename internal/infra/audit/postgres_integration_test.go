package audit

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spounge-ai/auditgate/internal/domain"
)

// Runs against a real database when AUDITGATE_TEST_POSTGRES_DSN is set.
func newPostgresSinks(t *testing.T, n int) []*PostgresSink {
	t.Helper()
	dsn := os.Getenv("AUDITGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUDITGATE_TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, Migrate(dsn))

	ctx := context.Background()
	sinks := make([]*PostgresSink, n)
	for i := range sinks {
		s, err := NewPostgresSink(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		sinks[i] = s
	}
	_, err := sinks[0].pool.Exec(ctx, "DELETE FROM audit_events")
	require.NoError(t, err)
	return sinks
}

func TestPostgresSinkSharedOrdering(t *testing.T) {
	sinks := newPostgresSinks(t, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				event := &domain.AuditEvent{Kind: domain.EventOperationSuccess, Actor: "instance", SessionID: string(rune('a' + i))}
				assert.NoError(t, s.Append(ctx, event))
			}
		}()
	}
	wg.Wait()

	events, err := Collect(ctx, sinks[0], domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 50)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"event %d is older than its predecessor", i)
	}

	require.NoError(t, Ping(ctx, sinks[1]))
}
