package domain

import (
	"context"
	"fmt"
	"time"
)

// AlertRule fires when at least Threshold events of EventKind fall in the
// trailing Window.
type AlertRule struct {
	Name      string
	EventKind EventKind
	Threshold int
	Window    time.Duration
	Channels  []string
}

// Key identifies the rule for de-duplication.
func (r AlertRule) Key() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s/%d/%s", r.EventKind, r.Threshold, r.Window)
}

// Alert is raised once per triggering window of a rule.
type Alert struct {
	ID          string
	Rule        AlertRule
	Count       int
	WindowStart time.Time
	WindowEnd   time.Time
	RaisedAt    time.Time
}

// Summary renders a one-line description suitable for chat and paging.
func (a Alert) Summary() string {
	return fmt.Sprintf("%s: %d %s events between %s and %s (threshold %d)",
		a.Rule.Key(), a.Count, a.Rule.EventKind,
		a.WindowStart.Format(time.RFC3339), a.WindowEnd.Format(time.RFC3339), a.Rule.Threshold)
}

// NotificationChannel delivers alerts to one destination.
type NotificationChannel interface {
	ID() string
	Send(ctx context.Context, alert Alert) error
}
