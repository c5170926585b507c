package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/executor"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	"github.com/spounge-ai/auditgate/internal/infra/ratelimit"
	"github.com/spounge-ai/auditgate/internal/monitor"
	"github.com/spounge-ai/auditgate/internal/session"
	"github.com/spounge-ai/auditgate/pkg/patterns/lifecycle"
)

const readyCheckTimeout = 2 * time.Second

// Deps are the components served over HTTP. Monitor may be nil.
type Deps struct {
	Sink       domain.AuditSink
	Sessions   *session.Manager
	Executor   *executor.Executor
	Classifier *app_errors.ErrorClassifier
	Monitor    *monitor.Monitor
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
	// Limiter throttles POST /v1/operations per client address when set.
	Limiter ratelimit.Limiter
}

// NewHandler builds the ops router. requestTimeout bounds every request
// except the event stream, which ends when the client goes away.
func NewHandler(deps Deps, requestTimeout time.Duration) http.Handler {
	h := &handler{
		sink:       deps.Sink,
		sessions:   deps.Sessions,
		executor:   deps.Executor,
		classifier: deps.Classifier,
		logger:     deps.Logger,
	}

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("audit-sink", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), readyCheckTimeout)
		defer cancel()
		return audit.Ping(ctx, deps.Sink)
	}, readyCheckTimeout))
	if deps.Monitor != nil {
		m := deps.Monitor
		health.AddLivenessCheck("security-monitor", func() error {
			if m.State() == monitor.StateStopped {
				return errors.New("security monitor is stopped")
			}
			return nil
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/live", health.LiveEndpoint)
	r.Get("/ready", health.ReadyEndpoint)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", h.handleEvents)
		r.Group(func(r chi.Router) {
			if requestTimeout > 0 {
				r.Use(middleware.Timeout(requestTimeout))
			}
			r.Get("/services/{service}/operations", h.handleOperationList)
			r.With(rateLimit(deps.Limiter)).Post("/operations", h.handleOperation)
		})
	})
	return r
}

func rateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				client = r.RemoteAddr
			}
			if !l.Allow(client) {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:   "rate_limited",
					Message: "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Server serves the ops handler on its own listener.
type Server struct {
	srv    *http.Server
	lis    net.Listener
	logger *slog.Logger
}

var _ lifecycle.ManagedResource = (*Server)(nil)

// New binds addr. When tlsCfg is non-nil the listener serves TLS.
func New(addr string, tlsCfg *tls.Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tlsCfg != nil {
		lis = tls.NewListener(lis, tlsCfg)
	}
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		lis:    lis,
		logger: logger,
	}, nil
}

// Addr is the bound address, useful when addr requested port 0.
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// Start serves until Stop is called.
func (s *Server) Start(context.Context) error {
	s.logger.Info("http server listening", "address", s.lis.Addr().String())
	if err := s.srv.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop waits for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) Health(context.Context) lifecycle.HealthStatus {
	return lifecycle.HealthStatus{Ready: true}
}
