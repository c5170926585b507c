package errors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/spounge-ai/auditgate/internal/domain"
	"github.com/spounge-ai/auditgate/pkg/patterns/circuitbreaker"
)

// Classification is the result of classifying a failure. Code and Message are
// copied from the failure without modification.
type Classification struct {
	Kind    domain.ErrorKind
	Code    string
	Message string
}

// Outcome is the audit outcome for the classified failure.
func (c Classification) Outcome() domain.Outcome {
	return c.Kind.Outcome()
}

type ErrorClassifier struct {
	logger *slog.Logger
}

func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	return &ErrorClassifier{logger: logger}
}

// Classify maps any error to exactly one ErrorKind. A nil error has KindNone.
// The checks run from the most specific wrapper to the most generic cause, so
// a remote rejection that travelled over a failing connection is still a
// client error.
func (ec *ErrorClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: domain.KindNone}
	}

	classified := Classification{Message: err.Error()}

	var (
		validationErr *ValidationError
		connErr       *ConnectionError
		dispatchErr   *DispatchError
		remoteErr     *RemoteError
		apiErr        smithy.APIError
	)

	switch {
	case errors.As(err, &validationErr), errors.Is(err, ErrValidation):
		classified.Kind = domain.KindValidation
	case errors.As(err, &connErr):
		classified.Kind = domain.KindConnection
		classified.Code = ec.Classify(connErr.Err).Code
	case errors.As(err, &dispatchErr):
		classified.Kind = domain.KindAlertDispatchFailure
		classified.Code = ec.Classify(dispatchErr.Err).Code
	case errors.As(err, &remoteErr):
		classified.Kind = domain.KindClient
		classified.Code = remoteErr.Code
		classified.Message = remoteErr.Message
	case errors.As(err, &apiErr):
		classified.Kind = domain.KindClient
		classified.Code = apiErr.ErrorCode()
		classified.Message = apiErr.ErrorMessage()
	case isTransport(err):
		classified.Kind = domain.KindTransport
	default:
		classified.Kind = domain.KindUnexpected
	}

	return classified
}

func isTransport(err error) bool {
	var (
		sendErr *smithyhttp.RequestSendError
		netErr  net.Error
	)
	return errors.As(err, &sendErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, circuitbreaker.ErrOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// LogFailure writes the classified failure to the structured log.
func (ec *ErrorClassifier) LogFailure(ctx context.Context, operation string, classified Classification, err error) {
	ec.logger.ErrorContext(ctx, "operation failed",
		"operation", operation,
		"error_kind", classified.Kind,
		"error_code", classified.Code,
		"internal_error", err,
	)
}
