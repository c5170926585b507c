package audit

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/spounge-ai/auditgate/internal/domain"
)

// stamper assigns identifiers and timestamps at append time. Callers must hold
// the sink's write lock so assigned timestamps follow append order.
type stamper struct {
	now  func() time.Time
	last time.Time
}

func newStamper(now func() time.Time) stamper {
	if now == nil {
		now = time.Now
	}
	return stamper{now: now}
}

func (s *stamper) stamp(event *domain.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		ts := s.now().UTC()
		if ts.Before(s.last) {
			ts = s.last
		}
		event.Timestamp = ts
	}
	if event.Timestamp.After(s.last) {
		s.last = event.Timestamp
	}
}

// errSeq yields a single error.
func errSeq(err error) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		yield(domain.AuditEvent{}, err)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks that sink can still reach its backing store. Sinks without a
// remote store are always reachable.
func Ping(ctx context.Context, sink domain.AuditSink) error {
	if p, ok := sink.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Count drains a query and returns the number of matching events.
func Count(ctx context.Context, sink domain.AuditSink, filter domain.AuditFilter) (int, error) {
	n := 0
	for _, err := range sink.Query(ctx, filter) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Collect drains a query into a slice.
func Collect(ctx context.Context, sink domain.AuditSink, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	for event, err := range sink.Query(ctx, filter) {
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}
