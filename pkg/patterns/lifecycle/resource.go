package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// HealthStatus represents the health of a component.
type HealthStatus struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
}

// ManagedResource is a long-running component. Start blocks until the
// component has stopped; Stop asks it to stop and waits at most until ctx
// expires.
type ManagedResource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) HealthStatus
}

// Func adapts a blocking run function, such as a polling loop, to a
// ManagedResource. The function's context is cancelled by Stop only, so the
// order in which resources are stopped is kept.
type Func struct {
	run func(ctx context.Context) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewFunc(run func(ctx context.Context) error) *Func {
	return &Func{run: run, done: make(chan struct{})}
}

func (f *Func) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped || f.cancel != nil {
		f.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.mu.Unlock()

	defer close(f.done)
	defer cancel()
	return f.run(runCtx)
}

func (f *Func) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	cancel := f.cancel
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("resource did not stop in time"), ctx.Err())
	}
}

func (f *Func) Health(context.Context) HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return HealthStatus{Ready: false, Message: "stopped"}
	default:
	}
	if f.cancel == nil {
		return HealthStatus{Ready: false, Message: "not started"}
	}
	return HealthStatus{Ready: true}
}
