// Package local implements the remote services in process: an in-memory
// object store and an AES-GCM key service. It backs development mode and
// tests that need real request semantics without AWS.
package local

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/remote"
	"github.com/spounge-ai/auditgate/pkg/memory"
)

// Connector hands out clients that share state per region, so an object
// written in one session is visible to the next.
type Connector struct {
	aead cipher.AEAD

	mu      sync.Mutex
	regions map[string]*objectStore
}

// NewConnector creates a connector whose key service seals data keys with the
// base64 encoded AES master key.
func NewConnector(masterKey string) (*Connector, error) {
	key, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	defer memory.SecureZeroBytes(key)
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("master key must be 16, 24 or 32 bytes, got %d", len(key))
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create key service cipher: %w", err)
	}
	return &Connector{aead: aead, regions: make(map[string]*objectStore)}, nil
}

func (c *Connector) Connect(ctx context.Context, service, region string) (domain.RemoteClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if region == "" {
		return nil, &app_errors.RemoteError{Code: "InvalidRegion", Message: "region is required"}
	}

	switch service {
	case remote.ServiceStorage:
		return &storageClient{store: c.store(region)}, nil
	case remote.ServiceKMS:
		return &keyClient{gcm: c.aead, region: region}, nil
	default:
		return nil, fmt.Errorf("%w: %q", app_errors.ErrUnsupportedService, service)
	}
}

func (c *Connector) store(region string) *objectStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.regions[region]
	if !ok {
		s = newObjectStore()
		c.regions[region] = s
	}
	return s
}

// closer is embedded by the clients to reject calls after Close.
type closer struct {
	closed atomic.Bool
}

func (c *closer) check(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: client closed", app_errors.ErrTransport)
	}
	return ctx.Err()
}

func (c *closer) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func unknownOperation(service, op string) error {
	return fmt.Errorf("%w: %s does not support %q", app_errors.ErrUnknownOperation, service, op)
}
