package config

import "time"

// ServerConfig configures the operational surfaces. A zero GRPCPort disables
// the gRPC health service.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"        validate:"required,hostname_port"`
	GRPCPort        int           `mapstructure:"grpc_port"        validate:"omitempty,gte=1024,lte=65535"`
	Mode            string        `mapstructure:"mode"             validate:"required,oneof=development production"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"duration_positive"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  validate:"duration_positive"`
	LogLevel        string        `mapstructure:"log_level"        validate:"oneof=debug info warn error"`
	TLS             TLS           `mapstructure:"tls"`
	RateLimit       RateLimit     `mapstructure:"rate_limit"`
}

// RateLimit throttles operation requests per client address.
type RateLimit struct {
	Enabled bool          `mapstructure:"enabled"`
	RPS     float64       `mapstructure:"rps"   validate:"required_if=Enabled true,omitempty,gt=0"`
	Burst   int           `mapstructure:"burst" validate:"required_if=Enabled true,omitempty,gte=1"`
	Idle    time.Duration `mapstructure:"idle"`
}

type TLS struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"      validate:"required_if=Enabled true"`
	KeyFile      string `mapstructure:"key_file"       validate:"required_if=Enabled true"`
	ClientCAFile string `mapstructure:"client_ca_file"`
	ClientAuth   string `mapstructure:"client_auth"`
}
