package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/metrics"
	"github.com/spounge-ai/auditgate/internal/session"
	"github.com/spounge-ai/auditgate/pkg/execution"
	custom_validator "github.com/spounge-ai/auditgate/pkg/validator"
)

var tracer = otel.Tracer("github.com/spounge-ai/auditgate/internal/executor")

// Executor runs named operations against open sessions and records exactly
// one terminal audit event per request. It holds no lock of its own, so
// concurrent calls against one session proceed in parallel.
type Executor struct {
	catalog        *Catalog
	recorder       *audit.Recorder
	classifier     *app_errors.ErrorClassifier
	validate       *validator.Validate
	logger         *slog.Logger
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
}

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithDefaultTimeout bounds operations whose schema declares no timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

func New(catalog *Catalog, recorder *audit.Recorder, classifier *app_errors.ErrorClassifier, logger *slog.Logger, opts ...Option) (*Executor, error) {
	v := validator.New()
	if err := custom_validator.RegisterCustomValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register parameter validators: %w", err)
	}
	e := &Executor{
		catalog:    catalog,
		recorder:   recorder,
		classifier: classifier,
		validate:   v,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute validates req, invokes it through s and records the outcome. A
// failure is returned as *errors.OperationError wrapping the original cause.
func (e *Executor) Execute(ctx context.Context, s *session.Session, req domain.OperationRequest) (domain.Result, error) {
	result := domain.Result{Operation: req.Operation}

	if !s.IsOpen() {
		err := fmt.Errorf("%w: %w", &app_errors.ValidationError{
			Operation: req.Operation,
			Reason:    "session is not open",
		}, app_errors.ErrSessionClosed)
		return result, e.fail(ctx, s, req, "", 0, false, err)
	}

	schema, ok := e.catalog.Lookup(s.Service(), req.Operation)
	if !ok {
		err := fmt.Errorf("%w: %w", &app_errors.ValidationError{
			Operation: req.Operation,
			Reason:    fmt.Sprintf("not supported by service %q", s.Service()),
		}, app_errors.ErrUnknownOperation)
		return result, e.fail(ctx, s, req, "", 0, false, err)
	}

	params, err := schema.Validate(e.validate, req.Params)
	if err != nil {
		return result, e.fail(ctx, s, req, "", 0, false, err)
	}
	result.Resource = schema.Resource(params)

	timeout := schema.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	ctx, span := tracer.Start(ctx, "Execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("auditgate.service", s.Service()),
		attribute.String("auditgate.region", s.Region()),
		attribute.String("auditgate.operation", req.Operation),
		attribute.String("auditgate.session_id", s.ID()),
	)

	start := time.Now()
	output, err := execution.WithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
		return s.Invoke(ctx, req.Operation, params)
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote invocation failed")
		return result, e.fail(ctx, s, req, result.Resource, elapsed, true, err)
	}

	result.Output = output
	result.Duration = elapsed
	e.metrics.ObserveOperation(s.Service(), req.Operation, string(domain.OutcomeSuccess), elapsed, true)

	_, _ = e.recorder.Record(ctx, domain.AuditEvent{
		Kind:      domain.EventOperationSuccess,
		Outcome:   domain.OutcomeSuccess,
		SessionID: s.ID(),
		Service:   s.Service(),
		Region:    s.Region(),
		Operation: req.Operation,
		Resource:  result.Resource,
		Duration:  elapsed,
	})
	return result, nil
}

// fail classifies cause, records the operation_failure event and returns the
// error handed back to the caller.
func (e *Executor) fail(ctx context.Context, s *session.Session, req domain.OperationRequest, resource string, elapsed time.Duration, reachedRemote bool, cause error) error {
	classified := e.classifier.Classify(cause)
	if reachedRemote {
		e.classifier.LogFailure(ctx, req.Operation, classified, cause)
	}

	event := domain.AuditEvent{
		Kind:         domain.EventOperationFailure,
		Operation:    req.Operation,
		Resource:     resource,
		Duration:     elapsed,
		ErrorKind:    classified.Kind,
		ErrorCode:    classified.Code,
		ErrorMessage: classified.Message,
	}
	service := ""
	if s != nil {
		event.SessionID = s.ID()
		event.Service = s.Service()
		event.Region = s.Region()
		service = s.Service()
	}
	e.metrics.ObserveOperation(service, req.Operation, string(classified.Outcome()), elapsed, reachedRemote)
	_, _ = e.recorder.Record(ctx, event)

	return &app_errors.OperationError{
		Operation: req.Operation,
		Kind:      classified.Kind,
		Code:      classified.Code,
		Err:       cause,
	}
}

// Catalog returns the schemas the executor validates against.
func (e *Executor) Catalog() *Catalog { return e.catalog }
