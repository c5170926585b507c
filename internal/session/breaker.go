package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/pkg/patterns/circuitbreaker"
)

// BreakerConfig enables a per-session circuit breaker.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// breakerClient fails fast once the remote service keeps failing at the
// transport level. Rejections carrying a remote code do not trip it.
type breakerClient struct {
	next    domain.RemoteClient
	breaker *circuitbreaker.Breaker[any]
}

func newBreakerClient(next domain.RemoteClient, cfg BreakerConfig, classifier *app_errors.ErrorClassifier, logger *slog.Logger, sessionID string) *breakerClient {
	breaker := circuitbreaker.New[any](cfg.MaxFailures, cfg.ResetTimeout,
		circuitbreaker.WithFailurePredicate(func(err error) bool {
			return classifier.Classify(err).Kind == domain.KindTransport
		}),
		circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
			logger.Warn("session circuit breaker changed state",
				"session_id", sessionID, "from", from.String(), "to", to.String())
		}),
	)
	return &breakerClient{next: next, breaker: breaker}
}

func (c *breakerClient) Invoke(ctx context.Context, operation string, params map[string]any) (any, error) {
	return c.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return c.next.Invoke(ctx, operation, params)
	})
}

func (c *breakerClient) Close(ctx context.Context) error {
	return c.next.Close(ctx)
}
