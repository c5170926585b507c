package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) (int, error) { return 0, errBoom }
func ok(context.Context) (int, error)   { return 1, nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New[int](2, time.Hour)
	ctx := context.Background()

	_, err := cb.Execute(ctx, fail)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, cb.State())

	_, err = cb.Execute(ctx, fail)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	var transitions []State
	cb := New[int](1, time.Millisecond, WithStateChange(func(_, to State) {
		transitions = append(transitions, to)
	}))
	ctx := context.Background()

	_, _ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	v, err := cb.Execute(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	cb := New[int](1, time.Hour, WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, errBoom)
	}))

	for range 3 {
		_, err := cb.Execute(context.Background(), fail)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateClosed, cb.State())
}
