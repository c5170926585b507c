package audit

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spounge-ai/auditgate/internal/domain"
	"github.com/spounge-ai/auditgate/pkg/postgres"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const insertEventQuery = `INSERT INTO audit_events
	(id, ts_unix_nano, kind, actor, resource, outcome, error_kind, error_code, error_message,
	 duration_ns, session_id, service, region, operation, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const selectEventColumns = `SELECT id, ts_unix_nano, kind, actor, resource, outcome, error_kind, error_code,
	error_message, duration_ns, session_id, service, region, operation, payload FROM audit_events`

// appendLockID is the advisory lock serializing appends across every process
// sharing the table.
const appendLockID int64 = 0x61756469746761

// PostgresSink stores events in the audit_events table. The seq column fixes
// the global append order. Appends hold an advisory lock and stamp after the
// newest stored timestamp, so seq order and timestamp order agree even when
// several instances share the table. Timestamps are stored as Unix
// nanoseconds to keep them bit-identical on read.
type PostgresSink struct {
	pool   *pgxpool.Pool
	client *postgres.Client

	mu      sync.Mutex
	stamper stamper
}

// NewPostgresSink connects to dsn and restores the last timestamp.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach audit database: %w", err)
	}

	s := &PostgresSink{pool: pool, client: postgres.NewClient(pool), stamper: newStamper(nil)}

	var last *int64
	if err := pool.QueryRow(ctx, `SELECT MAX(ts_unix_nano) FROM audit_events`).Scan(&last); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read last audit timestamp: %w", err)
	}
	if last != nil {
		s.stamper.last = time.Unix(0, *last).UTC()
	}
	return s, nil
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// migrationURL points the DSN at the pgx/v5 migrate driver.
func migrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (s *PostgresSink) Append(ctx context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := *event
	err := s.client.WithAdvisoryLock(ctx, appendLockID, func(tx pgx.Tx) error {
		var last *int64
		if err := tx.QueryRow(ctx, `SELECT MAX(ts_unix_nano) FROM audit_events`).Scan(&last); err != nil {
			return fmt.Errorf("failed to read last audit timestamp: %w", err)
		}
		if last != nil {
			if ts := time.Unix(0, *last).UTC(); ts.After(s.stamper.last) {
				s.stamper.last = ts
			}
		}
		s.stamper.stamp(&pending)

		_, err := tx.Exec(ctx, insertEventQuery,
			pending.ID, pending.Timestamp.UnixNano(), pending.Kind, pending.Actor, pending.Resource,
			pending.Outcome, pending.ErrorKind, pending.ErrorCode, pending.ErrorMessage,
			int64(pending.Duration), pending.SessionID, pending.Service, pending.Region,
			pending.Operation, pending.Payload,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	*event = pending
	return nil
}

func (s *PostgresSink) Query(ctx context.Context, filter domain.AuditFilter) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		query, args := buildQuery(filter)
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			yield(domain.AuditEvent{}, fmt.Errorf("failed to query audit events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			event, err := scanEvent(rows)
			if err != nil {
				yield(domain.AuditEvent{}, err)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.AuditEvent{}, fmt.Errorf("failed to iterate audit events: %w", err))
		}
	}
}

func buildQuery(filter domain.AuditFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		add("kind = ANY($%d)", kinds)
	}
	if !filter.Since.IsZero() {
		add("ts_unix_nano >= $%d", filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		add("ts_unix_nano < $%d", filter.Until.UnixNano())
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}

	var b strings.Builder
	b.WriteString(selectEventColumns)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY seq")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func scanEvent(rows pgx.Rows) (domain.AuditEvent, error) {
	var (
		event    domain.AuditEvent
		tsNano   int64
		duration int64
	)
	err := rows.Scan(&event.ID, &tsNano, &event.Kind, &event.Actor, &event.Resource, &event.Outcome,
		&event.ErrorKind, &event.ErrorCode, &event.ErrorMessage, &duration, &event.SessionID,
		&event.Service, &event.Region, &event.Operation, &event.Payload)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("failed to scan audit event: %w", err)
	}
	event.Timestamp = time.Unix(0, tsNano).UTC()
	event.Duration = time.Duration(duration)
	return event, nil
}

func (s *PostgresSink) Durability() domain.Durability { return domain.Durable }

// Ping reports whether the database is reachable.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
