package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auditgate"

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	SessionsActive      prometheus.Gauge
	SessionOpenFailures *prometheus.CounterVec
	AuditEventsTotal    *prometheus.CounterVec
	AuditAppendFailures prometheus.Counter
	MonitorCycles       *prometheus.CounterVec
	MonitorState        prometheus.Gauge
	AlertsDispatched    *prometheus.CounterVec
	DispatchFailures    *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Remote operations executed, by service, operation and outcome.",
		}, []string{"service", "operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of remote operations that reached the remote service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open.",
		}),
		SessionOpenFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_open_failures_total",
			Help:      "Sessions that failed to open, by service.",
		}, []string{"service"}),
		AuditEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events appended, by kind.",
		}, []string{"kind"}),
		AuditAppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit events the sink failed to accept.",
		}),
		MonitorCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_cycles_total",
			Help:      "Security monitor evaluation cycles, by result.",
		}, []string{"result"}),
		MonitorState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_state",
			Help:      "Current security monitor state (0 idle, 1 evaluating, 2 backoff, 3 stopped).",
		}),
		AlertsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dispatched_total",
			Help:      "Alerts delivered, by rule and channel.",
		}, []string{"rule", "channel"}),
		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_dispatch_failures_total",
			Help:      "Alert deliveries that failed after retries, by rule and channel.",
		}, []string{"rule", "channel"}),
	}
}

func (m *Metrics) ObserveOperation(service, operation, outcome string, d time.Duration, reachedRemote bool) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(service, operation, outcome).Inc()
	if reachedRemote {
		m.OperationDuration.WithLabelValues(service, operation).Observe(d.Seconds())
	}
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) SessionOpenFailed(service string) {
	if m == nil {
		return
	}
	m.SessionOpenFailures.WithLabelValues(service).Inc()
}

func (m *Metrics) AuditAppended(kind string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) AuditAppendFailed() {
	if m == nil {
		return
	}
	m.AuditAppendFailures.Inc()
}

func (m *Metrics) MonitorCycle(result string) {
	if m == nil {
		return
	}
	m.MonitorCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) SetMonitorState(state int) {
	if m == nil {
		return
	}
	m.MonitorState.Set(float64(state))
}

func (m *Metrics) AlertDispatched(rule, channel string) {
	if m == nil {
		return
	}
	m.AlertsDispatched.WithLabelValues(rule, channel).Inc()
}

func (m *Metrics) AlertDispatchFailed(rule, channel string) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(rule, channel).Inc()
}
