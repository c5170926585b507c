package monitor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

// dispatch sends alert to every channel of its rule in parallel and waits
// for all deliveries, so a cycle never ends with a half-dispatched alert.
func (m *Monitor) dispatch(ctx context.Context, alert domain.Alert) {
	var wg sync.WaitGroup
	for _, id := range alert.Rule.Channels {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			m.deliver(ctx, alert, id)
		}
		if err := m.pool.Submit(task); err != nil {
			m.logger.WarnContext(ctx, "dispatch pool unavailable, delivering inline", "error", err)
			task()
		}
	}
	wg.Wait()
}

// deliver makes a bounded number of attempts on one channel and records the
// result. It never returns an error to the loop.
func (m *Monitor) deliver(ctx context.Context, alert domain.Alert, channelID string) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("channel panicked: %v", p)
		}
		m.recordDelivery(ctx, alert, channelID, err)
	}()

	var ch domain.NotificationChannel
	ch, err = m.channels.Lookup(channelID)
	if err != nil {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.DispatchBackoff
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, m.cfg.DispatchRetries), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
		defer cancel()
		if err := ch.Send(sendCtx, alert); err != nil {
			m.logger.DebugContext(ctx, "alert delivery attempt failed",
				"channel", channelID, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, policy)
}

func (m *Monitor) recordDelivery(ctx context.Context, alert domain.Alert, channelID string, err error) {
	event := domain.AuditEvent{
		Kind:     domain.EventAlertDispatched,
		Resource: "channel/" + channelID,
		Payload: map[string]string{
			"alert_id":     alert.ID,
			"rule":         alert.Rule.Key(),
			"channel":      channelID,
			"count":        strconv.Itoa(alert.Count),
			"window_start": alert.WindowStart.Format(time.RFC3339Nano),
			"window_end":   alert.WindowEnd.Format(time.RFC3339Nano),
		},
	}

	if err != nil {
		classified := m.classifier.Classify(&app_errors.DispatchError{Channel: channelID, Err: err})
		event.Kind = domain.EventAlertDispatchFailure
		event.ErrorKind = classified.Kind
		event.ErrorCode = classified.Code
		event.ErrorMessage = classified.Message
		m.metrics.AlertDispatchFailed(alert.Rule.Key(), channelID)
		m.logger.ErrorContext(ctx, "alert delivery failed",
			"rule", alert.Rule.Key(), "channel", channelID, "alert_id", alert.ID, "error", err)
	} else {
		m.metrics.AlertDispatched(alert.Rule.Key(), channelID)
	}

	_, _ = m.recorder.Record(ctx, event)
}
