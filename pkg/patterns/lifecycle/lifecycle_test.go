package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type blockingResource struct {
	name    string
	stopped chan struct{}
	order   *[]string
	mu      *sync.Mutex
	fail    error
}

func newBlocking(name string, order *[]string, mu *sync.Mutex) *blockingResource {
	return &blockingResource{name: name, stopped: make(chan struct{}), order: order, mu: mu}
}

func (b *blockingResource) Start(ctx context.Context) error {
	if b.fail != nil {
		return b.fail
	}
	<-b.stopped
	return nil
}

func (b *blockingResource) Stop(context.Context) error {
	b.mu.Lock()
	*b.order = append(*b.order, b.name)
	b.mu.Unlock()
	select {
	case <-b.stopped:
	default:
		close(b.stopped)
	}
	return nil
}

func (b *blockingResource) Health(context.Context) HealthStatus { return HealthStatus{Ready: true} }

func TestRunStopsInReverseOrder(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, discard, time.Second,
			Resource{"first", newBlocking("first", &order, &mu)},
			Resource{"second", newBlocking("second", &order, &mu)},
		)
	}()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestRunStopsOthersWhenOneFails(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	broken := newBlocking("broken", &order, &mu)
	broken.fail = errors.New("bind: address in use")

	err := Run(context.Background(), discard, time.Second,
		Resource{"healthy", newBlocking("healthy", &order, &mu)},
		Resource{"broken", broken},
	)
	require.ErrorIs(t, err, broken.fail)
	assert.Contains(t, order, "healthy")
}

func TestFunc(t *testing.T) {
	var ran sync.WaitGroup
	ran.Add(1)
	f := NewFunc(func(ctx context.Context) error {
		ran.Done()
		<-ctx.Done()
		return nil
	})
	assert.False(t, f.Health(context.Background()).Ready)

	parent, cancelParent := context.WithCancel(context.Background())
	started := make(chan error, 1)
	go func() { started <- f.Start(parent) }()
	ran.Wait()

	// Cancelling the start context alone does not stop the function.
	cancelParent()
	select {
	case <-started:
		t.Fatal("function stopped before Stop was called")
	case <-time.After(20 * time.Millisecond):
	}
	assert.True(t, f.Health(context.Background()).Ready)

	require.NoError(t, f.Stop(context.Background()))
	require.NoError(t, <-started)
	assert.False(t, f.Health(context.Background()).Ready)
}

func TestFuncStopTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := NewFunc(func(context.Context) error {
		<-release
		return nil
	})
	go func() { _ = f.Start(context.Background()) }()
	require.Eventually(t, func() bool { return f.Health(context.Background()).Ready }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Stop(ctx), context.DeadlineExceeded)
}
