// Package notify delivers alerts to external systems. Every channel kind
// posts JSON over HTTP and implements domain.NotificationChannel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

const (
	KindSlack   = "slack"
	KindWebhook = "webhook"
	KindPager   = "pager"
)

const defaultTimeout = 10 * time.Second

// Config describes one channel instance.
type Config struct {
	ID         string
	Kind       string
	URL        string
	RoutingKey string
	Secret     string
	Timeout    time.Duration
}

// New builds the channel described by cfg.
func New(cfg Config, client *http.Client) (domain.NotificationChannel, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("channel %q: url is required", cfg.ID)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	p := poster{id: cfg.ID, url: cfg.URL, client: client}

	switch cfg.Kind {
	case KindSlack:
		return &Slack{poster: p}, nil
	case KindWebhook:
		return &Webhook{poster: p, secret: cfg.Secret}, nil
	case KindPager:
		if cfg.RoutingKey == "" {
			return nil, fmt.Errorf("channel %q: routing_key is required for pager channels", cfg.ID)
		}
		return &Pager{poster: p, routingKey: cfg.RoutingKey}, nil
	default:
		return nil, fmt.Errorf("channel %q: unknown kind %q", cfg.ID, cfg.Kind)
	}
}

// Registry resolves channel ids to channels.
type Registry struct {
	channels map[string]domain.NotificationChannel
}

// Build creates every configured channel. Ids must be unique.
func Build(cfgs []Config, client *http.Client) (*Registry, error) {
	r := &Registry{channels: make(map[string]domain.NotificationChannel, len(cfgs))}
	for _, cfg := range cfgs {
		if _, dup := r.channels[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate channel id %q", cfg.ID)
		}
		ch, err := New(cfg, client)
		if err != nil {
			return nil, err
		}
		r.channels[cfg.ID] = ch
	}
	return r, nil
}

// NewRegistry wraps already constructed channels.
func NewRegistry(channels ...domain.NotificationChannel) *Registry {
	r := &Registry{channels: make(map[string]domain.NotificationChannel, len(channels))}
	for _, ch := range channels {
		r.channels[ch.ID()] = ch
	}
	return r
}

func (r *Registry) Lookup(id string) (domain.NotificationChannel, error) {
	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", app_errors.ErrUnknownChannel, id)
	}
	return ch, nil
}

func (r *Registry) Len() int { return len(r.channels) }

// StatusError is returned when the receiver answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type poster struct {
	id     string
	url    string
	client *http.Client
}

func (p poster) ID() string { return p.id }

func (p poster) post(ctx context.Context, body any, header http.Header) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
