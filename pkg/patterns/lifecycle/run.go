package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Resource names a ManagedResource for logging.
type Resource struct {
	Name string
	ManagedResource
}

// Run starts every resource concurrently and blocks until ctx is cancelled or
// one of them fails. It then stops the resources in reverse order, giving
// them shutdownTimeout in total, and returns the first start failure joined
// with any stop failures.
func Run(ctx context.Context, logger *slog.Logger, shutdownTimeout time.Duration, resources ...Resource) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, r := range resources {
		g.Go(func() error {
			logger.Info("starting resource", "resource", r.Name)
			if err := r.Start(gctx); err != nil {
				return fmt.Errorf("%s: %w", r.Name, err)
			}
			return nil
		})
	}

	var stopErr error
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down resources", "timeout", shutdownTimeout)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for i := len(resources) - 1; i >= 0; i-- {
			r := resources[i]
			if err := r.Stop(stopCtx); err != nil {
				logger.Error("error stopping resource", "resource", r.Name, "error", err)
				errs = append(errs, fmt.Errorf("stop %s: %w", r.Name, err))
			}
		}
		stopErr = errors.Join(errs...)
		return nil
	})

	err := g.Wait()
	return errors.Join(err, stopErr)
}
