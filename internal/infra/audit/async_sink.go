package audit

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

// AsyncSinkConfig holds the configuration for the buffered sink.
type AsyncSinkConfig struct {
	ChannelBufferSize int
	BatchSize         int
	BatchTimeout      time.Duration
	WriteRetries      uint64
}

type asyncItem struct {
	event domain.AuditEvent
	flush chan struct{}
}

// AsyncSink accepts events into a buffer and writes them to the next sink from
// a single worker, which keeps the next sink's append order equal to the
// order Append was called. Append is eventually durable; Flush waits until
// everything accepted so far has been written.
type AsyncSink struct {
	next   domain.AuditSink
	logger *slog.Logger
	config AsyncSinkConfig

	mu      sync.Mutex
	stamper stamper
	closed  bool
	queue   chan asyncItem
	wg      sync.WaitGroup
}

// NewAsyncSink creates a buffered sink in front of next and starts its worker.
func NewAsyncSink(logger *slog.Logger, next domain.AuditSink, config AsyncSinkConfig) *AsyncSink {
	if config.ChannelBufferSize <= 0 {
		config.ChannelBufferSize = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 200 * time.Millisecond
	}

	s := &AsyncSink{
		next:    next,
		logger:  logger,
		config:  config,
		stamper: newStamper(nil),
		queue:   make(chan asyncItem, config.ChannelBufferSize),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Append stamps the event and queues it. It blocks while the buffer is full
// rather than dropping events.
func (s *AsyncSink) Append(ctx context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return app_errors.ErrSinkClosed
	}

	pending := *event
	s.stamper.stamp(&pending)

	select {
	case s.queue <- asyncItem{event: pending}:
		*event = pending
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every event accepted before the call has been written.
func (s *AsyncSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	select {
	case s.queue <- asyncItem{flush: done}:
	case <-ctx.Done():
		s.mu.Unlock()
		return ctx.Err()
	}
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query reads from the next sink. Events still buffered are not visible.
func (s *AsyncSink) Query(ctx context.Context, filter domain.AuditFilter) iter.Seq2[domain.AuditEvent, error] {
	return s.next.Query(ctx, filter)
}

func (s *AsyncSink) Durability() domain.Durability { return domain.Eventual }

// Ping fails once the sink is closed and otherwise checks the next sink.
func (s *AsyncSink) Ping(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return app_errors.ErrSinkClosed
	}
	return Ping(ctx, s.next)
}

// Close drains the buffer, stops the worker and closes the next sink.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.logger.Info("shutting down audit sink")
	s.wg.Wait()
	s.logger.Info("audit sink shut down successfully")
	return s.next.Close()
}

func (s *AsyncSink) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.BatchTimeout)
	defer ticker.Stop()

	batch := make([]domain.AuditEvent, 0, s.config.BatchSize)
	for {
		select {
		case item, ok := <-s.queue:
			if !ok {
				s.writeBatch(batch)
				return
			}
			if item.flush != nil {
				s.writeBatch(batch)
				batch = batch[:0]
				close(item.flush)
				continue
			}
			batch = append(batch, item.event)
			if len(batch) >= s.config.BatchSize {
				s.writeBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			s.writeBatch(batch)
			batch = batch[:0]
		}
	}
}

func (s *AsyncSink) writeBatch(batch []domain.AuditEvent) {
	for i := range batch {
		event := batch[i]
		op := func() error {
			return s.next.Append(context.Background(), &event)
		}
		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.config.WriteRetries)
		if err := backoff.Retry(op, policy); err != nil {
			s.logger.Error("failed to write audit event", "error", err, "audit_id", event.ID)
		}
	}
}
