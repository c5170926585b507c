package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spounge-ai/auditgate/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body when the
// channel has a secret.
const SignatureHeader = "X-Auditgate-Signature"

// Slack posts a text message to an incoming webhook.
type Slack struct {
	poster
}

func (s *Slack) Send(ctx context.Context, alert domain.Alert) error {
	return s.post(ctx, map[string]string{"text": ":rotating_light: " + alert.Summary()}, nil)
}

// Webhook posts the alert document as JSON.
type Webhook struct {
	poster
	secret string
}

type webhookPayload struct {
	ID          string    `json:"id"`
	Rule        string    `json:"rule"`
	EventKind   string    `json:"event_kind"`
	Threshold   int       `json:"threshold"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	RaisedAt    time.Time `json:"raised_at"`
	Summary     string    `json:"summary"`
}

func (w *Webhook) Send(ctx context.Context, alert domain.Alert) error {
	body := webhookPayload{
		ID:          alert.ID,
		Rule:        alert.Rule.Key(),
		EventKind:   string(alert.Rule.EventKind),
		Threshold:   alert.Rule.Threshold,
		Count:       alert.Count,
		WindowStart: alert.WindowStart,
		WindowEnd:   alert.WindowEnd,
		RaisedAt:    alert.RaisedAt,
		Summary:     alert.Summary(),
	}
	var header http.Header
	if w.secret != "" {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode notification: %w", err)
		}
		header = http.Header{SignatureHeader: []string{Sign(w.secret, payload)}}
	}
	return w.post(ctx, body, header)
}

// Sign returns the signature a receiver should expect for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Pager triggers an incident using the PagerDuty Events v2 shape.
type Pager struct {
	poster
	routingKey string
}

type pagerEvent struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key"`
	Payload     pagerPayload `json:"payload"`
}

type pagerPayload struct {
	Summary       string            `json:"summary"`
	Source        string            `json:"source"`
	Severity      string            `json:"severity"`
	Timestamp     time.Time         `json:"timestamp"`
	CustomDetails map[string]string `json:"custom_details,omitempty"`
}

func (p *Pager) Send(ctx context.Context, alert domain.Alert) error {
	return p.post(ctx, pagerEvent{
		RoutingKey:  p.routingKey,
		EventAction: "trigger",
		DedupKey:    fmt.Sprintf("%s@%d", alert.Rule.Key(), alert.WindowStart.UnixNano()),
		Payload: pagerPayload{
			Summary:   alert.Summary(),
			Source:    "auditgate",
			Severity:  "critical",
			Timestamp: alert.RaisedAt,
			CustomDetails: map[string]string{
				"event_kind": string(alert.Rule.EventKind),
				"count":      fmt.Sprint(alert.Count),
				"window":     alert.Rule.Window.String(),
			},
		},
	}, nil)
}
