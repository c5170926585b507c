package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	customvalidator "github.com/spounge-ai/auditgate/pkg/validator"
)

const envPrefix = "AUDITGATE"

type Config struct {
	Service        ServiceConfig   `mapstructure:"service"`
	Server         ServerConfig    `mapstructure:"server"`
	Audit          AuditConfig     `mapstructure:"audit"`
	AWS            AWSConfig       `mapstructure:"aws"`
	Session        SessionConfig   `mapstructure:"session"`
	Monitor        MonitorConfig   `mapstructure:"monitor"`
	Channels       []ChannelConfig `mapstructure:"channels" validate:"dive"`
	ServiceVersion string
	BuildCommit    string
}

// ServiceConfig identifies this process in audit records.
type ServiceConfig struct {
	Name  string `mapstructure:"name"  validate:"required"`
	Actor string `mapstructure:"actor" validate:"required"`
}

func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("config")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(envPrefix)
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(vip)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := customvalidator.RegisterCustomValidators(validate); err != nil {
		return nil, fmt.Errorf("failed to register custom validators: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.crossCheck(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.ServiceVersion = getenv(envPrefix+"_SERVICE_VERSION", "unknown")
	cfg.BuildCommit = getenv(envPrefix+"_BUILD_COMMIT", "unknown")

	return &cfg, nil
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("service.name", "auditgate")
	vip.SetDefault("service.actor", "auditgate")

	vip.SetDefault("server.http_addr", ":8080")
	vip.SetDefault("server.grpc_port", 50053)
	vip.SetDefault("server.mode", "production")
	vip.SetDefault("server.shutdown_timeout", "15s")
	vip.SetDefault("server.request_timeout", "30s")
	vip.SetDefault("server.log_level", "info")
	vip.SetDefault("server.rate_limit.rps", 20)
	vip.SetDefault("server.rate_limit.burst", 40)
	vip.SetDefault("server.rate_limit.idle", "10m")

	vip.SetDefault("audit.backend", "file")
	vip.SetDefault("audit.path", "audit.ndjson")
	vip.SetDefault("audit.migrate", true)
	vip.SetDefault("audit.async.channel_buffer_size", 1024)
	vip.SetDefault("audit.async.batch_size", 64)
	vip.SetDefault("audit.async.batch_timeout", "100ms")
	vip.SetDefault("audit.async.write_retries", 3)

	vip.SetDefault("aws.cache_ttl", "5m")
	vip.SetDefault("aws.max_attempts", 3)

	vip.SetDefault("session.operation_timeout", "30s")
	vip.SetDefault("session.breaker.max_failures", 5)
	vip.SetDefault("session.breaker.reset_timeout", "30s")

	vip.SetDefault("monitor.enabled", true)
	vip.SetDefault("monitor.interval", "60s")
	vip.SetDefault("monitor.initial_backoff", "2m")
	vip.SetDefault("monitor.max_backoff", "15m")
	vip.SetDefault("monitor.dispatch_retries", 3)
	vip.SetDefault("monitor.dispatch_backoff", "500ms")
	vip.SetDefault("monitor.dispatch_timeout", "10s")
	vip.SetDefault("monitor.workers", 8)
	vip.SetDefault("monitor.dedup.backend", "memory")
	vip.SetDefault("monitor.dedup.redis.prefix", "auditgate:alert:")
}

// crossCheck covers constraints that span sections. Rules may still name
// channels that do not exist; those deliveries fail and are audited.
func (c *Config) crossCheck() error {
	if c.Monitor.Dedup.Backend == "redis" && c.Monitor.Dedup.Redis.Addr == "" {
		return errors.New("monitor.dedup.redis.addr is required for the redis dedup backend")
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// getenv returns an environment variable or a default value.
func getenv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
