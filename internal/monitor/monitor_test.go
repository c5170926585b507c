package monitor

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/metrics"
	"github.com/spounge-ai/auditgate/internal/notify"
	"github.com/spounge-ai/auditgate/pkg/testutil"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingChannel struct {
	id       string
	failures int
	err      error

	mu       sync.Mutex
	attempts int
	alerts   []domain.Alert
}

func (c *recordingChannel) ID() string { return c.id }

func (c *recordingChannel) Send(_ context.Context, alert domain.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.err != nil {
		return c.err
	}
	if c.attempts <= c.failures {
		return errors.New("temporarily unavailable")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *recordingChannel) received() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Alert(nil), c.alerts...)
}

type panickingChannel struct{}

func (panickingChannel) ID() string { return "panicky" }

func (panickingChannel) Send(context.Context, domain.Alert) error { panic("boom") }

type harness struct {
	clock *fakeClock
	sink  *audit.MemorySink
	mon   *Monitor
}

func newHarness(t *testing.T, cfg Config, rules []domain.AlertRule, channels ...domain.NotificationChannel) *harness {
	t.Helper()
	logger := testutil.DiscardLogger()
	clock := &fakeClock{t: base}
	sink := audit.NewMemorySinkWithClock(clock.Now)
	recorder := audit.NewRecorder(logger, sink, "monitor", nil)

	mon, err := New(cfg, rules, sink, notify.NewRegistry(channels...), recorder,
		app_errors.NewErrorClassifier(logger), logger, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close(time.Second) })

	return &harness{clock: clock, sink: sink, mon: mon}
}

func (h *harness) failAt(t *testing.T, ts time.Time) {
	t.Helper()
	require.NoError(t, h.sink.Append(context.Background(), &domain.AuditEvent{
		Kind:      domain.EventOperationFailure,
		Timestamp: ts,
		Outcome:   domain.OutcomeClientError,
	}))
}

func (h *harness) events(t *testing.T, kind domain.EventKind) []domain.AuditEvent {
	t.Helper()
	events, err := audit.Collect(context.Background(), h.sink, domain.AuditFilter{Kinds: []domain.EventKind{kind}})
	require.NoError(t, err)
	return events
}

var failureRule = domain.AlertRule{
	Name:      "failures",
	EventKind: domain.EventOperationFailure,
	Threshold: 5,
	Window:    5 * time.Minute,
	Channels:  []string{"c1"},
}

func TestThresholdRaisesOneAlertPerWindow(t *testing.T) {
	c1 := &recordingChannel{id: "c1"}
	h := newHarness(t, Config{}, []domain.AlertRule{failureRule}, c1)
	ctx := context.Background()

	for i := range 5 {
		h.failAt(t, base.Add(time.Duration(i)*10*time.Second))
	}
	now := base.Add(time.Minute)
	h.clock.Set(now)

	alerts, err := h.mon.Evaluate(ctx, now)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, 5, alerts[0].Count)
	assert.Equal(t, now.Add(-5*time.Minute), alerts[0].WindowStart)
	assert.Equal(t, now, alerts[0].WindowEnd)
	require.Len(t, c1.received(), 1)

	h.failAt(t, base.Add(70*time.Second))
	later := base.Add(2 * time.Minute)
	h.clock.Set(later)

	alerts, err = h.mon.Evaluate(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Len(t, c1.received(), 1)

	dispatched := h.events(t, domain.EventAlertDispatched)
	require.Len(t, dispatched, 1)
	assert.Equal(t, "c1", dispatched[0].Payload["channel"])
	assert.Equal(t, "failures", dispatched[0].Payload["rule"])
	assert.Equal(t, "monitor", dispatched[0].Actor)
}

func TestBelowThresholdRaisesNothing(t *testing.T) {
	c1 := &recordingChannel{id: "c1"}
	h := newHarness(t, Config{}, []domain.AlertRule{failureRule}, c1)

	for i := range 4 {
		h.failAt(t, base.Add(time.Duration(i)*time.Second))
	}

	alerts, err := h.mon.Evaluate(context.Background(), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, c1.received())
}

func TestEventsOutsideWindowAreIgnored(t *testing.T) {
	c1 := &recordingChannel{id: "c1"}
	h := newHarness(t, Config{}, []domain.AlertRule{failureRule}, c1)

	for i := range 5 {
		h.failAt(t, base.Add(time.Duration(i)*time.Minute))
	}

	// The window is [now-5m, now): the first event is exactly at the start
	// and counts, the event at now does not.
	alerts, err := h.mon.Evaluate(context.Background(), base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	h2 := newHarness(t, Config{}, []domain.AlertRule{failureRule}, c1)
	for i := range 5 {
		h2.failAt(t, base.Add(time.Duration(i+1)*time.Minute))
	}
	alerts, err = h2.mon.Evaluate(context.Background(), base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestSustainedConditionAlertsAgainAfterWindowPasses(t *testing.T) {
	c1 := &recordingChannel{id: "c1"}
	h := newHarness(t, Config{}, []domain.AlertRule{failureRule}, c1)
	ctx := context.Background()

	for i := range 5 {
		h.failAt(t, base.Add(time.Duration(i)*time.Second))
	}
	_, err := h.mon.Evaluate(ctx, base.Add(time.Minute))
	require.NoError(t, err)

	for i := range 5 {
		h.failAt(t, base.Add(5*time.Minute+time.Duration(i)*time.Second))
	}
	alerts, err := h.mon.Evaluate(ctx, base.Add(6*time.Minute))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Len(t, c1.received(), 2)
}

func TestChannelFailuresAreIsolated(t *testing.T) {
	c1 := &recordingChannel{id: "c1"}
	bad := &recordingChannel{id: "bad", err: errors.New("connection refused")}
	rule := failureRule
	rule.Channels = []string{"bad", "c1", "missing", "panicky"}

	h := newHarness(t, Config{DispatchRetries: 2, DispatchBackoff: time.Millisecond},
		[]domain.AlertRule{rule}, c1, bad, panickingChannel{})

	for i := range 5 {
		h.failAt(t, base.Add(time.Duration(i)*time.Second))
	}
	alerts, err := h.mon.Evaluate(context.Background(), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	assert.Len(t, c1.received(), 1)
	assert.Equal(t, 3, bad.attempts)

	failures := h.events(t, domain.EventAlertDispatchFailure)
	require.Len(t, failures, 3)
	byChannel := map[string]domain.AuditEvent{}
	for _, e := range failures {
		assert.Equal(t, domain.KindAlertDispatchFailure, e.ErrorKind)
		byChannel[e.Payload["channel"]] = e
	}
	assert.Contains(t, byChannel, "bad")
	assert.Contains(t, byChannel, "missing")
	assert.Contains(t, byChannel, "panicky")
	assert.Contains(t, byChannel["bad"].ErrorMessage, "connection refused")

	assert.Len(t, h.events(t, domain.EventAlertDispatched), 1)
}

func TestDeliveryRetriesTransientFailures(t *testing.T) {
	c1 := &recordingChannel{id: "c1", failures: 2}
	h := newHarness(t, Config{DispatchRetries: 3, DispatchBackoff: time.Millisecond},
		[]domain.AlertRule{failureRule}, c1)

	for i := range 5 {
		h.failAt(t, base.Add(time.Duration(i)*time.Second))
	}
	_, err := h.mon.Evaluate(context.Background(), base.Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, c1.received(), 1)
	assert.Equal(t, 3, c1.attempts)
	assert.Empty(t, h.events(t, domain.EventAlertDispatchFailure))
}

func TestNewRejectsInvalidRules(t *testing.T) {
	logger := testutil.DiscardLogger()
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(logger, sink, "monitor", nil)
	classifier := app_errors.NewErrorClassifier(logger)

	_, err := New(Config{}, []domain.AlertRule{{EventKind: domain.EventOperationFailure, Threshold: 0, Window: time.Minute}},
		sink, notify.NewRegistry(), recorder, classifier, logger)
	require.Error(t, err)

	_, err = New(Config{}, []domain.AlertRule{{EventKind: domain.EventOperationFailure, Threshold: 1}},
		sink, notify.NewRegistry(), recorder, classifier, logger)
	require.Error(t, err)
}

type flakySink struct {
	*audit.MemorySink
	failing atomic.Bool
}

func (s *flakySink) Query(ctx context.Context, f domain.AuditFilter) iter.Seq2[domain.AuditEvent, error] {
	if s.failing.Load() {
		return func(yield func(domain.AuditEvent, error) bool) {
			yield(domain.AuditEvent{}, errors.New("sink unreachable"))
		}
	}
	return s.MemorySink.Query(ctx, f)
}

func TestRunBacksOffAndRecovers(t *testing.T) {
	logger := testutil.DiscardLogger()
	sink := &flakySink{MemorySink: audit.NewMemorySink()}
	sink.failing.Store(true)
	mt := metrics.New(prometheus.NewRegistry())

	mon, err := New(Config{
		Interval:       5 * time.Millisecond,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
	}, []domain.AlertRule{failureRule}, sink, notify.NewRegistry(),
		audit.NewRecorder(logger, sink, "monitor", nil), app_errors.NewErrorClassifier(logger), logger,
		WithMetrics(mt))
	require.NoError(t, err)
	defer func() { _ = mon.Close(time.Second) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	require.Eventually(t, func() bool { return mon.State() == StateBackoff }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(mt.MonitorCycles.WithLabelValues("failure")) >= 2
	}, 2*time.Second, time.Millisecond)

	sink.failing.Store(false)
	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(mt.MonitorCycles.WithLabelValues("success")) >= 1
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
	assert.Equal(t, StateStopped, mon.State())
}

func TestRunReturnsImmediatelyWhenCancelled(t *testing.T) {
	h := newHarness(t, Config{Interval: time.Hour}, []domain.AlertRule{failureRule})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.mon.Run(ctx))
	assert.Equal(t, StateStopped, h.mon.State())
}
