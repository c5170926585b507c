package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Session is one live connection to a remote service scope. It is created by
// a Manager and closed exactly once.
type Session struct {
	id       string
	service  string
	region   string
	openedAt time.Time
	client   domain.RemoteClient
	state    atomic.Int32
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Service() string     { return s.service }
func (s *Session) Region() string      { return s.region }
func (s *Session) OpenedAt() time.Time { return s.openedAt }

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) IsOpen() bool {
	return s != nil && s.State() == StateOpen
}

// Invoke calls the remote operation through the session's client. It is safe
// for concurrent use when the underlying client is.
func (s *Session) Invoke(ctx context.Context, operation string, params map[string]any) (any, error) {
	if !s.IsOpen() {
		return nil, fmt.Errorf("%w: %w", &app_errors.ValidationError{
			Operation: operation,
			Reason:    "session is not open",
		}, app_errors.ErrSessionClosed)
	}
	return s.client.Invoke(ctx, operation, params)
}
