package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	app_grpc "github.com/spounge-ai/auditgate/internal/app/grpc"
	app_http "github.com/spounge-ai/auditgate/internal/app/http"
	infra_config "github.com/spounge-ai/auditgate/internal/infra/config"
	"github.com/spounge-ai/auditgate/internal/infra/ratelimit"
	"github.com/spounge-ai/auditgate/internal/wiring"
	"github.com/spounge-ai/auditgate/pkg/patterns/lifecycle"
)

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := infra_config.Load(os.Getenv("AUDITGATE_CONFIG_PATH"))
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Server).With(
		"service", cfg.Service.Name,
		"version", cfg.ServiceVersion,
		"commit", cfg.BuildCommit,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("auditgate exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *infra_config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsConfig, err := wiring.ServerTLS(cfg.Server.TLS)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	components, err := wiring.Build(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := components.Close(closeCtx); err != nil {
			logger.Error("failed to close components", "error", err)
		}
	}()

	var limiter ratelimit.Limiter
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter = ratelimit.NewInMemoryRateLimiter(rate.Limit(rl.RPS), rl.Burst, rl.Idle)
	}

	handler := app_http.NewHandler(app_http.Deps{
		Sink:       components.Sink,
		Sessions:   components.Sessions,
		Executor:   components.Executor,
		Classifier: components.Classifier,
		Monitor:    components.Monitor,
		Gatherer:   reg,
		Logger:     logger,
		Limiter:    limiter,
	}, cfg.Server.RequestTimeout)
	httpSrv, err := app_http.New(cfg.Server.HTTPAddr, tlsConfig, handler, logger)
	if err != nil {
		return err
	}

	// Stopped in reverse: servers first, the monitor last.
	var resources []lifecycle.Resource
	if components.Monitor != nil {
		resources = append(resources, lifecycle.Resource{
			Name:            "security-monitor",
			ManagedResource: lifecycle.NewFunc(components.Monitor.Run),
		})
	}
	resources = append(resources, lifecycle.Resource{Name: "http", ManagedResource: httpSrv})

	if cfg.Server.GRPCPort != 0 {
		grpcSrv, err := app_grpc.New(cfg.Server.GRPCPort, tlsConfig, logger)
		if err != nil {
			_ = httpSrv.Stop(ctx)
			return err
		}
		if components.Monitor != nil {
			go grpcSrv.WatchMonitor(ctx, components.Monitor, cfg.Monitor.Interval)
		}
		resources = append(resources, lifecycle.Resource{Name: "grpc", ManagedResource: grpcSrv})
	}

	logger.Info("auditgate starting",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_port", cfg.Server.GRPCPort,
		"audit_backend", cfg.Audit.Backend,
		"monitor", cfg.Monitor.Enabled)
	return lifecycle.Run(ctx, logger, cfg.Server.ShutdownTimeout, resources...)
}

func newLogger(cfg infra_config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Mode == "development" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
