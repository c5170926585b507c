package errors

import (
	"errors"
	"fmt"

	"github.com/spounge-ai/auditgate/internal/domain"
)

var (
	ErrValidation         = errors.New("invalid request")
	ErrTransport          = errors.New("transport failure")
	ErrSessionClosed      = errors.New("session is not open")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrUnsupportedService = errors.New("unsupported service")
	ErrUnknownChannel     = errors.New("unknown notification channel")
	ErrSinkClosed         = errors.New("audit sink is closed")
)

// ValidationError rejects a request before anything is sent to the remote service.
type ValidationError struct {
	Operation string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request for %q: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q for %q: %s", e.Field, e.Operation, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RemoteError is an explicit rejection by the remote service carrying its code.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// ConnectionError reports a failure to open or close a session.
type ConnectionError struct {
	Service string
	Region  string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s session %s/%s: %v", e.Op, e.Service, e.Region, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DispatchError reports that an alert could not be delivered to a channel.
type DispatchError struct {
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to channel %q: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// OperationError is returned by the executor. It carries the classification
// and unwraps to the original failure.
type OperationError struct {
	Operation string
	Kind      domain.ErrorKind
	Code      string
	Err       error
}

func (e *OperationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed (%s %s): %v", e.Operation, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Operation, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
