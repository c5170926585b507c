package config

import "time"

// MonitorConfig configures the security monitor. Rules are read once at
// start; changing them requires a restart.
type MonitorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"         validate:"duration_positive"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"  validate:"duration_positive"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"      validate:"gtefield=InitialBackoff"`
	DispatchRetries uint64        `mapstructure:"dispatch_retries" validate:"lte=10"`
	DispatchBackoff time.Duration `mapstructure:"dispatch_backoff" validate:"duration_positive"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" validate:"duration_positive"`
	Workers         int           `mapstructure:"workers"          validate:"gte=1"`
	Rules           []RuleConfig  `mapstructure:"rules"            validate:"dive"`
	Dedup           DedupConfig   `mapstructure:"dedup"`
}

type RuleConfig struct {
	Name      string        `mapstructure:"name"`
	EventKind string        `mapstructure:"event_kind" validate:"required,event_kind"`
	Threshold int           `mapstructure:"threshold"  validate:"gte=1"`
	Window    time.Duration `mapstructure:"window"     validate:"duration_positive"`
	Channels  []string      `mapstructure:"channels"   validate:"min=1,dive,required"`
}

// DedupConfig selects where alert claims are kept. Redis lets several
// monitor replicas share one claim per window.
type DedupConfig struct {
	Backend string      `mapstructure:"backend" validate:"required,oneof=memory redis"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"     validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

type ChannelConfig struct {
	ID         string        `mapstructure:"id"          validate:"required"`
	Kind       string        `mapstructure:"kind"        validate:"required,channel_kind"`
	URL        string        `mapstructure:"url"         validate:"required,url|startswith=ssm:"`
	RoutingKey string        `mapstructure:"routing_key" validate:"required_if=Kind pager"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}
