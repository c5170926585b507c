package audit

import (
	"context"
	"iter"
	"maps"
	"sync"
	"time"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

// MemorySink keeps events in process memory. It is durable for the lifetime
// of the process only and is meant for tests and local development.
type MemorySink struct {
	mu      sync.RWMutex
	events  []domain.AuditEvent
	stamper stamper
	closed  bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{stamper: newStamper(nil)}
}

// NewMemorySinkWithClock is NewMemorySink with an injected time source.
func NewMemorySinkWithClock(now func() time.Time) *MemorySink {
	return &MemorySink{stamper: newStamper(now)}
}

func (s *MemorySink) Append(_ context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return app_errors.ErrSinkClosed
	}
	s.stamper.stamp(event)
	stored := *event
	stored.Payload = maps.Clone(event.Payload)
	s.events = append(s.events, stored)
	return nil
}

// Query iterates over a snapshot taken when iteration starts, so appends made
// while ranging are not observed by that iteration.
func (s *MemorySink) Query(ctx context.Context, filter domain.AuditFilter) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		s.mu.RLock()
		snapshot := s.events[:len(s.events):len(s.events)]
		s.mu.RUnlock()

		yielded := 0
		for _, event := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(domain.AuditEvent{}, err)
				return
			}
			if !filter.Matches(event) {
				continue
			}
			event.Payload = maps.Clone(event.Payload)
			if !yield(event, nil) {
				return
			}
			yielded++
			if filter.Limit > 0 && yielded >= filter.Limit {
				return
			}
		}
	}
}

func (s *MemorySink) Durability() domain.Durability { return domain.Durable }

// Len returns the number of stored events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
