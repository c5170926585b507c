package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/metrics"
)

// Manager owns the lifecycle of sessions: it opens them through a Connector,
// tracks the open ones and records session_start and session_end events.
type Manager struct {
	connector  domain.Connector
	recorder   *audit.Recorder
	classifier *app_errors.ErrorClassifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	breaker    *BreakerConfig
	now        func() time.Time

	sessions cmap.ConcurrentMap[string, *Session]
}

type Option func(*Manager)

// WithBreaker wraps every session's client in a circuit breaker.
func WithBreaker(cfg BreakerConfig) Option {
	return func(m *Manager) { m.breaker = &cfg }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(connector domain.Connector, recorder *audit.Recorder, classifier *app_errors.ErrorClassifier, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		connector:  connector,
		recorder:   recorder,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
		sessions:   cmap.New[*Session](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects to service in region. A failed open still records a
// session_start event with the failure, and the returned error is a
// *errors.ConnectionError.
func (m *Manager) Open(ctx context.Context, service, region string) (*Session, error) {
	s := &Session{
		id:      uuid.New().String(),
		service: service,
		region:  region,
	}

	client, err := m.connect(ctx, service, region)
	if err != nil {
		connErr := &app_errors.ConnectionError{Service: service, Region: region, Op: "open", Err: err}
		m.metrics.SessionOpenFailed(service)
		m.record(ctx, s, domain.EventSessionStart, connErr)
		return nil, connErr
	}

	if m.breaker != nil {
		client = newBreakerClient(client, *m.breaker, m.classifier, m.logger, s.id)
	}
	s.client = client
	s.openedAt = m.now().UTC()
	s.state.Store(int32(StateOpen))

	m.sessions.Set(s.id, s)
	m.metrics.SessionOpened()
	m.record(ctx, s, domain.EventSessionStart, nil)
	return s, nil
}

// connect guards against connectors that return neither a client nor an error.
func (m *Manager) connect(ctx context.Context, service, region string) (domain.RemoteClient, error) {
	client, err := m.connector.Connect(ctx, service, region)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("connector returned no client for %s/%s", service, region)
	}
	return client, nil
}

// Close releases the session. Only the first call does anything; later calls
// return nil and record nothing.
func (m *Manager) Close(ctx context.Context, s *Session) error {
	if s == nil || !s.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		return nil
	}
	m.sessions.Remove(s.id)
	m.metrics.SessionClosed()

	var closeErr error
	if err := s.client.Close(ctx); err != nil {
		closeErr = &app_errors.ConnectionError{Service: s.service, Region: s.region, Op: "close", Err: err}
	}
	m.record(ctx, s, domain.EventSessionEnd, closeErr)
	return closeErr
}

// WithSession opens a session, runs fn and closes the session on every exit
// path, panics included. If fn fails, a close failure is recorded but the
// error from fn is returned.
func (m *Manager) WithSession(ctx context.Context, service, region string, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := m.Open(ctx, service, region)
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		closeErr := m.Close(context.WithoutCancel(ctx), s)
		if closeErr == nil {
			return
		}
		if !completed || err != nil {
			m.logger.WarnContext(ctx, "session close failed during cleanup",
				"session_id", s.id, "error", closeErr)
			return
		}
		err = closeErr
	}()

	err = fn(ctx, s)
	completed = true
	return err
}

// Get returns an open session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	return m.sessions.Count()
}

// CloseAll closes every open session and joins the close errors.
func (m *Manager) CloseAll(ctx context.Context) error {
	var errs []error
	for _, s := range m.sessions.Items() {
		if err := m.Close(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) record(ctx context.Context, s *Session, kind domain.EventKind, err error) {
	classified := m.classifier.Classify(err)
	event := domain.AuditEvent{
		Kind:      kind,
		SessionID: s.id,
		Service:   s.service,
		Region:    s.region,
		Resource:  fmt.Sprintf("%s/%s", s.service, s.region),
		ErrorKind: classified.Kind,
		ErrorCode: classified.Code,
	}
	if err != nil {
		event.ErrorMessage = classified.Message
	}
	// Sink failures are already logged by the recorder.
	_, _ = m.recorder.Record(ctx, event)
}
