package grpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/monitor"
	"github.com/spounge-ai/auditgate/internal/notify"
	"github.com/spounge-ai/auditgate/pkg/testutil"
)

func TestHealthFollowsMonitor(t *testing.T) {
	logger := testutil.DiscardLogger()
	sink := audit.NewMemorySink()
	mon, err := monitor.New(monitor.Config{Interval: 5 * time.Millisecond}, nil, sink, notify.NewRegistry(),
		audit.NewRecorder(logger, sink, "tester", nil), app_errors.NewErrorClassifier(logger), logger)
	require.NoError(t, err)
	defer mon.Close(time.Second)

	srv, err := New(0, nil, logger)
	require.NoError(t, err)
	go func() { _ = srv.Start(context.Background()) }()
	defer srv.Stop(context.Background())

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go srv.WatchMonitor(watchCtx, mon, 5*time.Millisecond)

	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- mon.Run(runCtx) }()

	port := srv.Addr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	statusOf := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return grpc_health_v1.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool {
		return statusOf("") == grpc_health_v1.HealthCheckResponse_SERVING &&
			statusOf(MonitorService) == grpc_health_v1.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	stopRun()
	require.NoError(t, <-runDone)

	assert.Eventually(t, func() bool {
		return statusOf(MonitorService) == grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, statusOf(""))
}

func TestStopMarksNotServing(t *testing.T) {
	srv, err := New(0, nil, testutil.DiscardLogger())
	require.NoError(t, err)
	started := make(chan error, 1)
	go func() { started <- srv.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, <-started)
}
