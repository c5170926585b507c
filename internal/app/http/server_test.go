package http

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/executor"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/infra/local"
	"github.com/spounge-ai/auditgate/internal/metrics"
	"github.com/spounge-ai/auditgate/internal/remote"
	"github.com/spounge-ai/auditgate/internal/session"
	"github.com/spounge-ai/auditgate/pkg/testutil"
)

const testMasterKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

type fixture struct {
	sink     *audit.MemorySink
	sessions *session.Manager
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testutil.DiscardLogger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(logger, sink, "ops-api", m)
	classifier := app_errors.NewErrorClassifier(logger)

	connector, err := local.NewConnector(testMasterKey)
	require.NoError(t, err)
	sessions := session.NewManager(connector, recorder, classifier, logger, session.WithMetrics(m))

	catalog := executor.NewCatalog()
	remote.Register(catalog)
	exec, err := executor.New(catalog, recorder, classifier, logger, executor.WithMetrics(m))
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(Deps{
		Sink:       sink,
		Sessions:   sessions,
		Executor:   exec,
		Classifier: classifier,
		Gatherer:   reg,
		Logger:     logger,
	}, 5*time.Second))
	t.Cleanup(srv.Close)

	return &fixture{sink: sink, sessions: sessions, server: srv}
}

func (f *fixture) post(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.server.URL+"/v1/operations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (f *fixture) events(t *testing.T, query string) (*http.Response, []domain.AuditEvent) {
	t.Helper()
	resp, err := http.Get(f.server.URL + "/v1/events" + query)
	require.NoError(t, err)
	defer resp.Body.Close()

	var events []domain.AuditEvent
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var e domain.AuditEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return resp, events
}

func TestOperationRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp, out := f.post(t, `{
		"service": "storage", "region": "eu-west-1", "operation": "put",
		"params": {"bucket": "reports", "key": "q3.csv", "content_type": "text/csv"},
		"params_base64": {"body": "YSxiLGMK"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "put", out["operation"])
	assert.Equal(t, "reports/q3.csv", out["resource"])
	assert.NotEmpty(t, out["session_id"])

	resp, out = f.post(t, `{
		"service": "storage", "region": "eu-west-1", "operation": "get",
		"params": {"bucket": "reports", "key": "q3.csv"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	output := out["output"].(map[string]any)
	assert.Equal(t, "YSxiLGMK", output["body"])

	// Each request is its own session.
	assert.Equal(t, 0, f.sessions.Active())

	_, events := f.events(t, "?kind=operation_success")
	require.Len(t, events, 2)
	assert.Equal(t, "ops-api", events[0].Actor)
	assert.Equal(t, domain.OutcomeSuccess, events[1].Outcome)
}

func TestOperationFailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		kind   domain.ErrorKind
		code   string
	}{
		{
			name:   "missing parameter",
			body:   `{"service":"storage","region":"r1","operation":"get","params":{"bucket":"reports"}}`,
			status: http.StatusBadRequest,
			kind:   domain.KindValidation,
		},
		{
			name:   "unknown operation",
			body:   `{"service":"storage","region":"r1","operation":"rename","params":{}}`,
			status: http.StatusBadRequest,
			kind:   domain.KindValidation,
		},
		{
			name:   "remote rejection",
			body:   `{"service":"storage","region":"r1","operation":"get","params":{"bucket":"reports","key":"missing"}}`,
			status: http.StatusUnprocessableEntity,
			kind:   domain.KindClient,
			code:   "NoSuchBucket",
		},
		{
			name:   "unsupported service",
			body:   `{"service":"queue","region":"r1","operation":"send","params":{}}`,
			status: http.StatusBadGateway,
			kind:   domain.KindConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, out := f.post(t, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, string(tt.kind), out["error"])
			if tt.code != "" {
				assert.Equal(t, tt.code, out["code"])
			}
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestOperationRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"service": "storage"`,
		`{"service":"storage","unexpected":true}`,
		`{"service":"storage","region":"r1","operation":"put","params":{"body":"x"},"params_base64":{"body":"eA=="}}`,
		`{"service":"storage","region":"r1","operation":"put","params_base64":{"body":"%%%"}}`,
	} {
		resp, out := f.post(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, string(domain.KindValidation), out["error"])
	}

	// Nothing reached the session layer.
	n, err := audit.Count(context.Background(), f.sink, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, kind := range []domain.EventKind{
		domain.EventSessionStart,
		domain.EventOperationFailure,
		domain.EventOperationFailure,
		domain.EventSessionEnd,
	} {
		require.NoError(t, f.sink.Append(ctx, &domain.AuditEvent{
			Kind:      kind,
			Actor:     "tester",
			SessionID: "s1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	resp, events := f.events(t, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Len(t, events, 4)

	_, events = f.events(t, "?kind=session_start,session_end")
	assert.Len(t, events, 2)

	_, events = f.events(t, "?since=2026-03-01T12:01:00Z&until=2026-03-01T12:03:00Z")
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOperationFailure, events[0].Kind)

	_, events = f.events(t, "?session_id=s1&limit=3")
	assert.Len(t, events, 3)

	_, events = f.events(t, "?actor=someone-else")
	assert.Empty(t, events)

	for _, q := range []string{"?kind=operation_started", "?since=yesterday", "?limit=-1",
		"?since=2026-03-01T12:03:00Z&until=2026-03-01T12:01:00Z"} {
		resp, _ := f.events(t, q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

type failingSink struct{ domain.AuditSink }

func (failingSink) Query(context.Context, domain.AuditFilter) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		yield(domain.AuditEvent{}, app_errors.ErrSinkClosed)
	}
}

func (failingSink) Ping(context.Context) error { return app_errors.ErrSinkClosed }

func TestEventQueryFailure(t *testing.T) {
	logger := testutil.DiscardLogger()
	srv := httptest.NewServer(NewHandler(Deps{
		Sink:       failingSink{},
		Classifier: app_errors.NewErrorClassifier(logger),
		Logger:     logger,
	}, 0))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	ready, err := http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	for path, status := range map[string]int{
		"/live":  http.StatusOK,
		"/ready": http.StatusOK,
	} {
		resp, err := http.Get(f.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode, path)
	}

	f.post(t, `{"service":"kms","region":"r1","operation":"describe_key","params":{"key_id":"alias/app"}}`)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var b strings.Builder
	_, err = bufio.NewReader(resp.Body).WriteTo(&b)
	require.NoError(t, err)
	assert.Contains(t, b.String(), "auditgate_")
}

func TestOperationList(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/services/kms/operations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Operations []string `json:"operations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Operations, remote.OpEncrypt)

	missing, err := http.Get(f.server.URL + "/v1/services/queue/operations")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

type denyAfter struct{ n int }

func (d *denyAfter) Allow(string) bool {
	d.n--
	return d.n >= 0
}

func TestOperationRateLimit(t *testing.T) {
	logger := testutil.DiscardLogger()
	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(logger, sink, "ops-api", nil)
	classifier := app_errors.NewErrorClassifier(logger)
	connector, err := local.NewConnector(testMasterKey)
	require.NoError(t, err)
	catalog := executor.NewCatalog()
	remote.Register(catalog)
	exec, err := executor.New(catalog, recorder, classifier, logger)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(Deps{
		Sink:       sink,
		Sessions:   session.NewManager(connector, recorder, classifier, logger),
		Executor:   exec,
		Classifier: classifier,
		Logger:     logger,
		Limiter:    &denyAfter{n: 1},
	}, time.Second))
	defer srv.Close()

	body := `{"service":"kms","region":"r1","operation":"describe_key","params":{"key_id":"alias/app"}}`
	first, err := http.Post(srv.URL+"/v1/operations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	first.Body.Close()
	assert.NotEqual(t, http.StatusTooManyRequests, first.StatusCode)

	second, err := http.Post(srv.URL+"/v1/operations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	// The event stream is never throttled.
	events, err := http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	events.Body.Close()
	assert.Equal(t, http.StatusOK, events.StatusCode)
}
