package aws

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/remote"
)

// Config selects how sessions reach AWS. Empty static credentials fall back
// to the default provider chain.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxAttempts     int
	CacheTTL        time.Duration
}

// Connector opens S3 and KMS clients per session. Connect resolves
// credentials eagerly so a bad credential chain fails the session open
// instead of the first operation.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

func NewConnector(cfg Config, logger *slog.Logger) *Connector {
	return &Connector{cfg: cfg, logger: logger}
}

func (c *Connector) Connect(ctx context.Context, service, region string) (domain.RemoteClient, error) {
	if !remote.Supported(service) {
		return nil, fmt.Errorf("%w: %q", app_errors.ErrUnsupportedService, service)
	}

	awsCfg, err := c.LoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}

	var client domain.RemoteClient
	switch service {
	case remote.ServiceStorage:
		client = newStorageClient(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if c.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.cfg.Endpoint)
				o.UsePathStyle = true
			}
		}))
	case remote.ServiceKMS:
		client = newKeyClient(kms.NewFromConfig(awsCfg, func(o *kms.Options) {
			if c.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.cfg.Endpoint)
			}
		}))
	}

	if c.cfg.CacheTTL > 0 {
		client = NewCachingClient(client, c.cfg.CacheTTL)
	}
	c.logger.DebugContext(ctx, "aws client connected", "service", service, "region", region)
	return client, nil
}

// LoadConfig resolves the SDK configuration for region with the connector's
// credentials and retry settings.
func (c *Connector) LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if c.cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.cfg.AccessKeyID, c.cfg.SecretAccessKey, c.cfg.SessionToken)))
	}
	if c.cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(c.cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	if awsCfg.Credentials == nil {
		return aws.Config{}, fmt.Errorf("no aws credentials configured")
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, fmt.Errorf("failed to retrieve aws credentials: %w", err)
	}
	return awsCfg, nil
}

func unknownOperation(service, op string) error {
	return fmt.Errorf("%w: %s does not support %q", app_errors.ErrUnknownOperation, service, op)
}
