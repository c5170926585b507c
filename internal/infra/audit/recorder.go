package audit

import (
	"context"
	"log/slog"

	"github.com/spounge-ai/auditgate/internal/domain"
	"github.com/spounge-ai/auditgate/internal/metrics"
)

// Recorder is how components emit audit events. It fills in the actor,
// appends to the sink and mirrors the stored event to the structured log.
type Recorder struct {
	logger  *slog.Logger
	sink    domain.AuditSink
	actor   string
	metrics *metrics.Metrics
}

// NewRecorder creates a recorder that attributes events to actor.
func NewRecorder(logger *slog.Logger, sink domain.AuditSink, actor string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		logger:  logger,
		sink:    sink,
		actor:   actor,
		metrics: m,
	}
}

// Sink returns the underlying sink.
func (r *Recorder) Sink() domain.AuditSink { return r.sink }

// Durability reports whether a successful Record means the event is persisted.
func (r *Recorder) Durability() domain.Durability { return r.sink.Durability() }

// Record appends the event and returns it as stored. A sink failure is logged
// and counted but never changes the outcome of the audited action; the error
// is returned so callers that care can react. The append ignores cancellation
// of ctx: an action that failed on an expired context is still recorded.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	ctx = context.WithoutCancel(ctx)
	if event.Actor == "" {
		event.Actor = r.actor
	}
	if event.Outcome == "" {
		event.Outcome = event.ErrorKind.Outcome()
	}

	if err := r.sink.Append(ctx, &event); err != nil {
		r.metrics.AuditAppendFailed()
		r.logger.ErrorContext(ctx, "failed to store audit event",
			slog.String("kind", string(event.Kind)),
			slog.String("session_id", event.SessionID),
			slog.String("operation", event.Operation),
			slog.String("error", err.Error()))
		return event, err
	}
	r.metrics.AuditAppended(string(event.Kind))

	logAttrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("actor", event.Actor),
		slog.String("outcome", string(event.Outcome)),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.SessionID != "" {
		logAttrs = append(logAttrs, slog.Group("session",
			slog.String("id", event.SessionID),
			slog.String("service", event.Service),
			slog.String("region", event.Region),
		))
	}
	if event.Operation != "" {
		logAttrs = append(logAttrs, slog.String("operation", event.Operation))
	}
	if event.Resource != "" {
		logAttrs = append(logAttrs, slog.String("resource", event.Resource))
	}
	if event.Duration > 0 {
		logAttrs = append(logAttrs, slog.Duration("duration", event.Duration))
	}

	level := slog.LevelInfo
	if event.ErrorKind != domain.KindNone {
		level = slog.LevelWarn
		logAttrs = append(logAttrs,
			slog.String("error_kind", string(event.ErrorKind)),
			slog.String("error_code", event.ErrorCode),
			slog.String("error", event.ErrorMessage),
		)
	}

	r.logger.LogAttrs(ctx, level, "audit_event", logAttrs...)
	return event, nil
}
