package domain

import (
	"context"
	"iter"
	"slices"
	"time"
)

// EventKind names what an audit event records.
type EventKind string

const (
	EventSessionStart         EventKind = "session_start"
	EventSessionEnd           EventKind = "session_end"
	EventOperationSuccess     EventKind = "operation_success"
	EventOperationFailure     EventKind = "operation_failure"
	EventAlertDispatched      EventKind = "alert_dispatched"
	EventAlertDispatchFailure EventKind = "alert_dispatch_failure"
)

var eventKinds = []EventKind{
	EventSessionStart,
	EventSessionEnd,
	EventOperationSuccess,
	EventOperationFailure,
	EventAlertDispatched,
	EventAlertDispatchFailure,
}

// Valid reports whether k is one of the recorded event kinds.
func (k EventKind) Valid() bool {
	return slices.Contains(eventKinds, k)
}

// Outcome is the coarse result recorded on every audit event.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeClientError     Outcome = "client_error"
	OutcomeTransportError  Outcome = "transport_error"
	OutcomeUnexpectedError Outcome = "unexpected_error"
)

// ErrorKind is one category of the failure taxonomy.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindValidation           ErrorKind = "validation_error"
	KindClient               ErrorKind = "client_error"
	KindTransport            ErrorKind = "transport_error"
	KindUnexpected           ErrorKind = "unexpected_error"
	KindConnection           ErrorKind = "connection_error"
	KindAlertDispatchFailure ErrorKind = "alert_dispatch_failure"
)

// Outcome folds the taxonomy into the four outcomes an audit record carries.
// The precise kind is kept alongside it on the event.
func (k ErrorKind) Outcome() Outcome {
	switch k {
	case KindNone:
		return OutcomeSuccess
	case KindValidation, KindClient:
		return OutcomeClientError
	case KindTransport, KindConnection, KindAlertDispatchFailure:
		return OutcomeTransportError
	default:
		return OutcomeUnexpectedError
	}
}

// AuditEvent is the unit of record. Events are never modified after Append.
type AuditEvent struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Kind         EventKind         `json:"kind"`
	Actor        string            `json:"actor"`
	Resource     string            `json:"resource,omitempty"`
	Outcome      Outcome           `json:"outcome"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Duration     time.Duration     `json:"duration_ns,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
	Service      string            `json:"service,omitempty"`
	Region       string            `json:"region,omitempty"`
	Operation    string            `json:"operation,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
}

// AuditFilter selects events from a sink. Zero values match everything.
// Since is inclusive and Until is exclusive.
type AuditFilter struct {
	Kinds     []EventKind
	Since     time.Time
	Until     time.Time
	SessionID string
	Actor     string
	Limit     int
}

// Matches reports whether e satisfies every populated field of the filter.
// Limit is applied by the sink, not here.
func (f AuditFilter) Matches(e AuditEvent) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	return true
}

// Durability tells emitters what Append guarantees on return.
type Durability int

const (
	// Durable sinks have persisted the event when Append returns.
	Durable Durability = iota
	// Eventual sinks have accepted the event and persist it later.
	Eventual
)

func (d Durability) String() string {
	if d == Eventual {
		return "eventual"
	}
	return "durable"
}

// AuditSink is the append-only event store shared by every component.
//
// Append assigns a timestamp when the event has none; assigned timestamps never
// go backwards, so append order and timestamp order agree. An empty ID is
// filled with a fresh identifier. Each append is atomic per record.
//
// Query yields matching events in append order. The sequence is lazy and can be
// ranged over again; a later query over the same filter yields a superset.
type AuditSink interface {
	Append(ctx context.Context, event *AuditEvent) error
	Query(ctx context.Context, filter AuditFilter) iter.Seq2[AuditEvent, error]
	Durability() Durability
	Close() error
}
