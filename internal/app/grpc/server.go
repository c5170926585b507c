package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/spounge-ai/auditgate/internal/app/grpc/interceptors"
	"github.com/spounge-ai/auditgate/internal/monitor"
	"github.com/spounge-ai/auditgate/pkg/patterns/lifecycle"
)

// MonitorService is the health service name that follows the security monitor.
const MonitorService = "auditgate.SecurityMonitor"

// Server exposes the standard gRPC health service. The empty service name
// reports the process; MonitorService reports the monitor loop.
type Server struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
	lis        net.Listener
	logger     *slog.Logger
}

var _ lifecycle.ManagedResource = (*Server)(nil)

func New(port int, tlsCfg *tls.Config, logger *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptors.UnaryRecoveryInterceptor(logger),
			interceptors.UnaryLoggingInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			interceptors.StreamLoggingInterceptor(logger),
		),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	grpcServer := grpc.NewServer(opts...)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
		lis:        lis,
		logger:     logger,
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Start(context.Context) error {
	s.logger.Info("gRPC server listening", "address", s.lis.Addr().String())
	s.healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	if err := s.grpcServer.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server: %w", err)
	}
	return nil
}

// Stop drains in-flight calls and watch streams. If ctx expires first the
// remaining connections are closed forcibly.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping gRPC server")
	s.healthSrv.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, closing connections")
		s.grpcServer.Stop()
		<-done
	}
	s.logger.Info("gRPC server stopped")
	return nil
}

func (s *Server) Health(context.Context) lifecycle.HealthStatus {
	return lifecycle.HealthStatus{Ready: true}
}

// WatchMonitor mirrors the monitor state into MonitorService until ctx is
// done: SERVING while the loop runs (backoff included), NOT_SERVING once it
// has stopped.
func (s *Server) WatchMonitor(ctx context.Context, m *monitor.Monitor, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := grpc_health_v1.HealthCheckResponse_UNKNOWN
	for {
		status := grpc_health_v1.HealthCheckResponse_SERVING
		if m.State() == monitor.StateStopped {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			s.healthSrv.SetServingStatus(MonitorService, status)
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
