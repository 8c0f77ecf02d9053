// Package history keeps a SQLite journal of recording sessions.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
)

// Status of a journaled session
type Status string

const (
	StatusRecording  Status = "recording"
	StatusCompleted  Status = "completed"
	StatusStopFailed Status = "stop_failed"
	StatusFailed     Status = "failed"
)

// DefaultLimit bounds List when no limit is given
const DefaultLimit = 50

// Entry is one journaled session
type Entry struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	OutputDirectory string     `json:"output_directory"`
	ContainerFormat string     `json:"container_format"`
	Encoder         string     `json:"encoder,omitempty"`
	Status          Status     `json:"status"`
	Error           string     `json:"error,omitempty"`
}

// Store persists session entries
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	started_at       INTEGER NOT NULL,
	stopped_at       INTEGER,
	output_directory TEXT NOT NULL,
	container_format TEXT NOT NULL,
	encoder          TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	writeTimeout            = 5 * time.Second
)

// Open creates or opens the journal at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SessionEvent journals a recorder transition. Write failures are logged.
func (s *Store) SessionEvent(e recorder.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.Record(ctx, e); err != nil {
		logger.WithComponent("history").Warn().
			Err(err).
			Str("session", e.Session.ID).
			Str("event", string(e.Kind)).
			Msg("Failed to journal session event")
	}
}

// Record applies one recorder event to the journal
func (s *Store) Record(ctx context.Context, e recorder.Event) error {
	sess := e.Session
	switch e.Kind {
	case recorder.EventStarted:
		return s.insert(ctx, sess, sess.StartedAt, StatusRecording, "")
	case recorder.EventFailed:
		return s.insert(ctx, sess, s.now(), StatusFailed, errorText(e.Err))
	case recorder.EventStopped:
		status := StatusCompleted
		if e.Err != nil {
			status = StatusStopFailed
		}
		stopped := sess.StoppedAt
		if stopped.IsZero() {
			stopped = s.now()
		}
		return retryOnBusy(ctx, func() error {
			_, err := s.db.ExecContext(ctx,
				`UPDATE sessions SET stopped_at = ?, status = ?, error = ? WHERE id = ?`,
				stopped.UnixNano(), string(status), errorText(e.Err), sess.ID)
			return err
		})
	default:
		return fmt.Errorf("unknown session event %q", e.Kind)
	}
}

func (s *Store) insert(ctx context.Context, sess recorder.Session, started time.Time, status Status, errText string) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, started_at, output_directory, container_format, encoder, status, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, started.UnixNano(), sess.Request.OutputDirectory,
			string(sess.Request.ContainerFormat), sess.Encoder, string(status), errText)
		return err
	})
}

// List returns the newest sessions first
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, stopped_at, output_directory, container_format, encoder, status, error
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			started int64
			stopped sql.NullInt64
			status  string
		)
		if err := rows.Scan(&e.ID, &started, &stopped, &e.OutputDirectory, &e.ContainerFormat, &e.Encoder, &status, &e.Error); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.StartedAt = time.Unix(0, started)
		if stopped.Valid {
			t := time.Unix(0, stopped.Int64)
			e.StoppedAt = &t
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
