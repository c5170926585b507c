package config

import "time"

// AWSConfig selects the remote service backend. When disabled, sessions use
// the in-process services sealed with LocalMasterKey.
type AWSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Endpoint        string        `mapstructure:"endpoint"          validate:"omitempty,url"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
	SessionToken    string        `mapstructure:"session_token"`
	MaxAttempts     int           `mapstructure:"max_attempts"      validate:"gte=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	LocalMasterKey  string        `mapstructure:"local_master_key"  validate:"required_if=Enabled false,omitempty,base64"`
	// SecretsRegion is where "ssm:" channel references are read from.
	SecretsRegion string `mapstructure:"secrets_region" validate:"omitempty,region"`
}

// SessionConfig applies to every session and operation.
type SessionConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxFailures  int           `mapstructure:"max_failures"  validate:"gte=1"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" validate:"duration_positive"`
}
