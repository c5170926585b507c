package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/executor"
	"github.com/spounge-ai/auditgate/internal/infra/audit"
	infra_aws "github.com/spounge-ai/auditgate/internal/infra/aws"
	"github.com/spounge-ai/auditgate/internal/infra/config"
	"github.com/spounge-ai/auditgate/internal/infra/local"
	"github.com/spounge-ai/auditgate/internal/infra/secrets"
	"github.com/spounge-ai/auditgate/internal/metrics"
	"github.com/spounge-ai/auditgate/internal/monitor"
	"github.com/spounge-ai/auditgate/internal/notify"
	"github.com/spounge-ai/auditgate/internal/remote"
	"github.com/spounge-ai/auditgate/internal/session"
)

// Components is the assembled application.
type Components struct {
	Metrics    *metrics.Metrics
	Sink       domain.AuditSink
	Recorder   *audit.Recorder
	Classifier *app_errors.ErrorClassifier
	Sessions   *session.Manager
	Executor   *executor.Executor
	Channels   *notify.Registry
	// Monitor is nil when monitoring is disabled.
	Monitor *monitor.Monitor

	closers []func(context.Context) error
}

// Build constructs every component from cfg. On failure, whatever was
// already opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (_ *Components, err error) {
	c := &Components{Metrics: metrics.New(reg)}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	c.Sink, err = ProvideAuditSink(ctx, cfg.Audit, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { return c.Sink.Close() })

	c.Classifier = app_errors.NewErrorClassifier(logger)
	c.Recorder = audit.NewRecorder(logger, c.Sink, cfg.Service.Actor, c.Metrics)

	connector, err := ProvideConnector(cfg.AWS, logger)
	if err != nil {
		return nil, err
	}

	sessionOpts := []session.Option{session.WithMetrics(c.Metrics)}
	if cfg.Session.Breaker.Enabled {
		sessionOpts = append(sessionOpts, session.WithBreaker(session.BreakerConfig{
			MaxFailures:  cfg.Session.Breaker.MaxFailures,
			ResetTimeout: cfg.Session.Breaker.ResetTimeout,
		}))
	}
	c.Sessions = session.NewManager(connector, c.Recorder, c.Classifier, logger, sessionOpts...)
	c.closers = append(c.closers, c.Sessions.CloseAll)

	catalog := executor.NewCatalog()
	remote.Register(catalog)
	c.Executor, err = executor.New(catalog, c.Recorder, c.Classifier, logger,
		executor.WithMetrics(c.Metrics),
		executor.WithDefaultTimeout(cfg.Session.OperationTimeout))
	if err != nil {
		return nil, err
	}

	source, err := ProvideSecretSource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Channels, err = ProvideChannels(ctx, cfg.Channels, source)
	if err != nil {
		return nil, err
	}

	if cfg.Monitor.Enabled {
		dedup, closeDedup, err := ProvideDedup(cfg.Monitor.Dedup)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return closeDedup() })

		rules := AlertRules(cfg.Monitor.Rules)
		for _, r := range rules {
			for _, id := range r.Channels {
				if _, err := c.Channels.Lookup(id); err != nil {
					logger.WarnContext(ctx, "alert rule references an unknown channel", "rule", r.Key(), "channel", id)
				}
			}
		}

		c.Monitor, err = monitor.New(MonitorConfig(cfg.Monitor), rules, c.Sink, c.Channels, c.Recorder, c.Classifier, logger,
			monitor.WithMetrics(c.Metrics),
			monitor.WithDedup(dedup))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(ctx context.Context) error {
			return c.Monitor.Close(remaining(ctx, 5*time.Second))
		})
	}

	return c, nil
}

// Close releases components in reverse construction order: sessions are
// closed while the sink can still record their session_end events.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ProvideAuditSink opens the configured sink, wrapped in an AsyncSink when
// asynchronous auditing is enabled.
func ProvideAuditSink(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (domain.AuditSink, error) {
	var (
		sink domain.AuditSink
		err  error
	)
	switch cfg.Backend {
	case "memory":
		sink = audit.NewMemorySink()
	case "file":
		sink, err = audit.OpenFileSink(cfg.Path)
	case "postgres":
		if cfg.Migrate {
			if err := audit.Migrate(cfg.DSN); err != nil {
				return nil, err
			}
		}
		sink, err = audit.NewPostgresSink(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("invalid audit backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Async.Enabled {
		sink = audit.NewAsyncSink(logger, sink, audit.AsyncSinkConfig{
			ChannelBufferSize: cfg.Async.ChannelBufferSize,
			BatchSize:         cfg.Async.BatchSize,
			BatchTimeout:      cfg.Async.BatchTimeout,
			WriteRetries:      cfg.Async.WriteRetries,
		})
	}
	logger.Info("audit sink ready", "backend", cfg.Backend, "durability", sink.Durability())
	return sink, nil
}

// ProvideConnector returns the AWS connector when AWS is enabled and the
// in-process services otherwise.
func ProvideConnector(cfg config.AWSConfig, logger *slog.Logger) (domain.Connector, error) {
	if !cfg.Enabled {
		connector, err := local.NewConnector(cfg.LocalMasterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create local connector: %w", err)
		}
		return connector, nil
	}
	return infra_aws.NewConnector(infra_aws.Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		MaxAttempts:     cfg.MaxAttempts,
		CacheTTL:        cfg.CacheTTL,
	}, logger), nil
}

// ProvideChannels builds the channel registry, reading "ssm:" references
// from source.
func ProvideChannels(ctx context.Context, cfgs []config.ChannelConfig, source secrets.Source) (*notify.Registry, error) {
	out := make([]notify.Config, 0, len(cfgs))
	for _, c := range cfgs {
		n := notify.Config{ID: c.ID, Kind: c.Kind, Timeout: c.Timeout}
		for _, field := range []struct {
			dst  *string
			name string
			src  string
		}{
			{&n.URL, "url", c.URL},
			{&n.RoutingKey, "routing_key", c.RoutingKey},
			{&n.Secret, "secret", c.Secret},
		} {
			v, err := secrets.Resolve(ctx, source, field.src)
			if err != nil {
				return nil, fmt.Errorf("channel %q %s: %w", c.ID, field.name, err)
			}
			*field.dst = v
		}
		out = append(out, n)
	}
	return notify.Build(out, nil)
}

// ProvideSecretSource returns a Parameter Store client when some channel
// holds a secret reference, and nil otherwise.
func ProvideSecretSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (secrets.Source, error) {
	needed := slices.ContainsFunc(cfg.Channels, func(c config.ChannelConfig) bool {
		return secrets.IsRef(c.URL) || secrets.IsRef(c.RoutingKey) || secrets.IsRef(c.Secret)
	})
	if !needed {
		return nil, nil
	}
	if cfg.AWS.SecretsRegion == "" {
		return nil, errors.New("channel secret references need aws.secrets_region")
	}
	connector := infra_aws.NewConnector(infra_aws.Config{
		Endpoint:        cfg.AWS.Endpoint,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
		MaxAttempts:     cfg.AWS.MaxAttempts,
	}, logger)
	awsCfg, err := connector.LoadConfig(ctx, cfg.AWS.SecretsRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to configure secret source: %w", err)
	}
	return secrets.NewParameterStore(awsCfg, cfg.AWS.Endpoint), nil
}

// ProvideDedup returns the dedup store and a function releasing it.
func ProvideDedup(cfg config.DedupConfig) (monitor.DedupStore, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return monitor.NewMemoryDedup(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return monitor.NewRedisDedup(client, cfg.Redis.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid dedup backend: %s", cfg.Backend)
	}
}

func AlertRules(cfgs []config.RuleConfig) []domain.AlertRule {
	rules := make([]domain.AlertRule, 0, len(cfgs))
	for _, r := range cfgs {
		rules = append(rules, domain.AlertRule{
			Name:      r.Name,
			EventKind: domain.EventKind(r.EventKind),
			Threshold: r.Threshold,
			Window:    r.Window,
			Channels:  append([]string(nil), r.Channels...),
		})
	}
	return rules
}

func MonitorConfig(cfg config.MonitorConfig) monitor.Config {
	return monitor.Config{
		Interval:        cfg.Interval,
		InitialBackoff:  cfg.InitialBackoff,
		MaxBackoff:      cfg.MaxBackoff,
		DispatchRetries: cfg.DispatchRetries,
		DispatchBackoff: cfg.DispatchBackoff,
		DispatchTimeout: cfg.DispatchTimeout,
		Workers:         cfg.Workers,
	}
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return fallback
}
