package audit

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spounge-ai/auditgate/internal/domain"
	"github.com/spounge-ai/auditgate/internal/metrics"
)

func TestRecorderFillsActorAndOutcome(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	sink := NewMemorySink()
	m := metrics.New(prometheus.NewRegistry())
	recorder := NewRecorder(logger, sink, "svc-reporter", m)

	stored, err := recorder.Record(context.Background(), domain.AuditEvent{
		Kind:      domain.EventOperationFailure,
		ErrorKind: domain.KindTransport,
		Operation: "put",
	})
	require.NoError(t, err)

	assert.Equal(t, "svc-reporter", stored.Actor)
	assert.Equal(t, domain.OutcomeTransportError, stored.Outcome)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.Timestamp.IsZero())
	assert.Contains(t, logs.String(), `"msg":"audit_event"`)
	assert.Contains(t, logs.String(), stored.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("operation_failure")))
}

func TestRecorderReportsSinkFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	sink := NewMemorySink()
	require.NoError(t, sink.Close())
	m := metrics.New(prometheus.NewRegistry())
	recorder := NewRecorder(logger, sink, "svc", m)

	_, err := recorder.Record(context.Background(), domain.AuditEvent{Kind: domain.EventSessionStart})
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditAppendFailures))
}

func TestRecorderIgnoresCancelledContext(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "audit.ndjson"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	recorder := NewRecorder(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), sink, "svc", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = recorder.Record(ctx, domain.AuditEvent{Kind: domain.EventOperationFailure, ErrorKind: domain.KindTransport})
	require.NoError(t, err)

	events, err := Collect(context.Background(), sink, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
