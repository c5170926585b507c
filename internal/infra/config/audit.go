package config

import "time"

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Backend string           `mapstructure:"backend" validate:"required,oneof=memory file postgres"`
	Path    string           `mapstructure:"path"    validate:"required_if=Backend file"`
	DSN     string           `mapstructure:"dsn"     validate:"required_if=Backend postgres"`
	Migrate bool             `mapstructure:"migrate"`
	Async   AsyncAuditConfig `mapstructure:"async"`
}

// AsyncAuditConfig puts a buffered writer in front of the sink. Appends then
// return before the event is persisted.
type AsyncAuditConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ChannelBufferSize int           `mapstructure:"channel_buffer_size" validate:"gte=1"`
	BatchSize         int           `mapstructure:"batch_size"          validate:"gte=1"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"       validate:"duration_positive"`
	WriteRetries      uint64        `mapstructure:"write_retries"`
}
