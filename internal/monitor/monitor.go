// Package monitor periodically evaluates alert rules over the audit trail
// and dispatches alerts to notification channels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/metrics"
)

// ChannelResolver finds a notification channel by id.
type ChannelResolver interface {
	Lookup(id string) (domain.NotificationChannel, error)
}

type Config struct {
	Interval        time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	DispatchRetries uint64
	DispatchBackoff time.Duration
	DispatchTimeout time.Duration
	Workers         int
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = c.Interval
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 10 * c.InitialBackoff
	}
	if c.DispatchBackoff <= 0 {
		c.DispatchBackoff = 200 * time.Millisecond
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
}

// Monitor is a single background loop. Rules are fixed for its lifetime;
// changing them requires a restart.
type Monitor struct {
	cfg        Config
	rules      []domain.AlertRule
	sink       domain.AuditSink
	channels   ChannelResolver
	dedup      DedupStore
	recorder   *audit.Recorder
	classifier *app_errors.ErrorClassifier
	logger     *slog.Logger
	metrics    *metrics.Metrics
	pool       *ants.Pool
	now        func() time.Time

	state atomic.Int32
}

type Option func(*Monitor)

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithDedup(d DedupStore) Option {
	return func(m *Monitor) { m.dedup = d }
}

// New validates the rules and starts the dispatch worker pool.
func New(cfg Config, rules []domain.AlertRule, sink domain.AuditSink, channels ChannelResolver, recorder *audit.Recorder, classifier *app_errors.ErrorClassifier, logger *slog.Logger, opts ...Option) (*Monitor, error) {
	cfg.setDefaults()
	for _, r := range rules {
		if r.Threshold < 1 {
			return nil, fmt.Errorf("rule %q: threshold must be at least 1", r.Key())
		}
		if r.Window <= 0 {
			return nil, fmt.Errorf("rule %q: window must be positive", r.Key())
		}
	}

	m := &Monitor{
		cfg:        cfg,
		rules:      append([]domain.AlertRule(nil), rules...),
		sink:       sink,
		channels:   channels,
		dedup:      NewMemoryDedup(),
		recorder:   recorder,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		m.logger.Error("alert dispatch worker panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch pool: %w", err)
	}
	m.pool = pool
	m.setState(StateIdle)
	return m, nil
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
	m.metrics.SetMonitorState(int(s))
}

// Rules returns the rules loaded at start.
func (m *Monitor) Rules() []domain.AlertRule {
	return append([]domain.AlertRule(nil), m.rules...)
}

// Run evaluates the rules every interval until ctx is cancelled. A failed
// cycle moves the loop to backoff with an exponentially growing wait that
// resets after the next good cycle. Cancellation is observed only between
// cycles; a running cycle completes with a context detached from ctx. Run
// returns nil when stopped by cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(StateStopped)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff
	bo.MaxInterval = m.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	m.logger.InfoContext(ctx, "security monitor started",
		"rules", len(m.rules), "interval", m.cfg.Interval)

	for {
		if ctx.Err() != nil {
			m.logger.InfoContext(ctx, "security monitor stopped")
			return nil
		}

		m.setState(StateEvaluating)
		err := m.cycle(context.WithoutCancel(ctx))

		wait := m.cfg.Interval
		if err != nil {
			m.setState(StateBackoff)
			wait = bo.NextBackOff()
			m.metrics.MonitorCycle("failure")
			m.logger.WarnContext(ctx, "evaluation cycle failed, backing off",
				"error", err, "retry_in", wait)
		} else {
			bo.Reset()
			m.setState(StateIdle)
			m.metrics.MonitorCycle("success")
		}

		if !sleep(ctx, wait) {
			m.logger.InfoContext(ctx, "security monitor stopped")
			return nil
		}
		m.setState(StateIdle)
	}
}

func (m *Monitor) cycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("evaluation panicked: %v", p)
		}
	}()
	_, err = m.Evaluate(ctx, m.now().UTC())
	return err
}

// Evaluate checks every rule against the events in [now-window, now) and
// dispatches an alert for each rule that crosses its threshold and wins a
// dedup claim. Rule failures do not stop the other rules; they are joined in
// the returned error.
func (m *Monitor) Evaluate(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	var (
		alerts []domain.Alert
		errs   []error
	)

	for _, rule := range m.rules {
		windowStart := now.Add(-rule.Window)
		count, err := audit.Count(ctx, m.sink, domain.AuditFilter{
			Kinds: []domain.EventKind{rule.EventKind},
			Since: windowStart,
			Until: now,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: failed to query events: %w", rule.Key(), err))
			continue
		}
		if count < rule.Threshold {
			continue
		}

		claimed, err := m.dedup.Claim(ctx, rule.Key(), windowStart, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Key(), err))
			continue
		}
		if !claimed {
			m.logger.DebugContext(ctx, "alert suppressed for overlapping window",
				"rule", rule.Key(), "count", count)
			continue
		}

		alert := domain.Alert{
			ID:          uuid.New().String(),
			Rule:        rule,
			Count:       count,
			WindowStart: windowStart,
			WindowEnd:   now,
			RaisedAt:    m.now().UTC(),
		}
		m.logger.WarnContext(ctx, "alert raised",
			"rule", rule.Key(), "count", count, "threshold", rule.Threshold, "alert_id", alert.ID)
		m.dispatch(ctx, alert)
		alerts = append(alerts, alert)
	}

	return alerts, errors.Join(errs...)
}

// Close stops the dispatch pool, waiting up to timeout for running deliveries.
func (m *Monitor) Close(timeout time.Duration) error {
	return m.pool.ReleaseTimeout(timeout)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
