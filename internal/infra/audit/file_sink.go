package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

// FileSink persists events as newline-delimited JSON, one record per line.
// Append writes the whole record with a single write and fsyncs before
// returning. Queries read only the bytes committed when iteration starts, so
// they never observe a partially written record.
type FileSink struct {
	path string

	mu        sync.Mutex
	file      *os.File
	committed int64
	stamper   stamper
	closed    bool
}

// OpenFileSink opens or creates the log at path and restores the last
// timestamp so assigned timestamps stay monotonic across restarts.
func OpenFileSink(path string) (*FileSink, error) {
	return openFileSink(path, time.Now)
}

func openFileSink(path string, now func() time.Time) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}

	s := &FileSink{path: path, file: f, stamper: newStamper(now)}
	if err := s.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// recover scans the existing log, truncating a torn final record left by a
// crash mid-write.
func (s *FileSink) recover() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek audit log: %w", err)
	}

	reader := bufio.NewReader(s.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to scan audit log: %w", err)
		}
		var event domain.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("corrupt audit record at offset %d: %w", offset, err)
		}
		if event.Timestamp.After(s.stamper.last) {
			s.stamper.last = event.Timestamp
		}
		offset += int64(len(line))
	}

	if err := s.file.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate audit log: %w", err)
	}
	s.committed = offset
	return nil
}

func (s *FileSink) Append(_ context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return app_errors.ErrSinkClosed
	}

	pending := *event
	s.stamper.stamp(&pending)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(&pending); err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	n, err := s.file.Write(buf.B)
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		if n > 0 {
			// Drop the torn record so the log stays parseable.
			_ = s.file.Truncate(s.committed)
		}
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	s.committed += int64(n)
	*event = pending
	return nil
}

func (s *FileSink) Query(ctx context.Context, filter domain.AuditFilter) iter.Seq2[domain.AuditEvent, error] {
	return func(yield func(domain.AuditEvent, error) bool) {
		s.mu.Lock()
		committed := s.committed
		closed := s.closed
		s.mu.Unlock()
		if closed {
			yield(domain.AuditEvent{}, app_errors.ErrSinkClosed)
			return
		}

		f, err := os.Open(s.path)
		if err != nil {
			yield(domain.AuditEvent{}, fmt.Errorf("failed to open audit log for reading: %w", err))
			return
		}
		defer f.Close()

		reader := bufio.NewReader(io.LimitReader(f, committed))
		yielded := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.AuditEvent{}, err)
				return
			}
			line, err := reader.ReadBytes('\n')
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(domain.AuditEvent{}, fmt.Errorf("failed to read audit log: %w", err))
				return
			}

			var event domain.AuditEvent
			if err := json.Unmarshal(bytes.TrimSpace(line), &event); err != nil {
				yield(domain.AuditEvent{}, fmt.Errorf("failed to decode audit event: %w", err))
				return
			}
			if !filter.Matches(event) {
				continue
			}
			if !yield(event, nil) {
				return
			}
			yielded++
			if filter.Limit > 0 && yielded >= filter.Limit {
				return
			}
		}
	}
}

func (s *FileSink) Durability() domain.Durability { return domain.Durable }

// Path returns the location of the log file.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
