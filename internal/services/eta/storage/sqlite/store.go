// Package sqlite provides the SQLite adapter for framework state. The same
// database handle is shared with modules through the lifecycle host.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/eta/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/eta/internal/services/eta/storage"
	"github.com/louisbranch/eta/internal/services/eta/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed session store.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ storage.SessionStore   = (*Store)(nil)
	_ storage.SessionSweeper = (*Store)(nil)
)

// DSN returns the connection string used for a database file.
func DSN(path string) string {
	return filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
}

// Open opens, pings, and migrates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	sqlDB, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	store, err := New(ctx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database and applies the framework migrations.
func New(ctx context.Context, sqlDB *sql.DB) (*Store, error) {
	if sqlDB == nil {
		return nil, storage.ErrNotConfigured
	}
	if err := sqlitemigrate.ApplyNamespaced(ctx, sqlDB, migrations.FS, ".", "eta"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// DB exposes the handle for module migrations and lifecycle handlers.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetSession loads an unexpired session.
func (s *Store) GetSession(ctx context.Context, id string) (storage.SessionRecord, bool, error) {
	if s == nil || s.sqlDB == nil {
		return storage.SessionRecord{}, false, storage.ErrNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.SessionRecord{}, false, fmt.Errorf("session id is required")
	}

	var data string
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data, expires_at FROM eta_sessions WHERE id = ?`, id,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, false, nil
	}
	if err != nil {
		return storage.SessionRecord{}, false, fmt.Errorf("get session: %w", err)
	}

	record := storage.SessionRecord{ID: id, ExpiresAt: unixMillisToTime(expiresAt)}
	if record.Expired(s.now()) {
		return storage.SessionRecord{}, false, nil
	}
	if err := json.Unmarshal([]byte(data), &record.Values); err != nil {
		return storage.SessionRecord{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	if record.Values == nil {
		record.Values = map[string]any{}
	}
	return record, true, nil
}

// PutSession upserts a session.
func (s *Store) PutSession(ctx context.Context, record storage.SessionRecord) error {
	if s == nil || s.sqlDB == nil {
		return storage.ErrNotConfigured
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return fmt.Errorf("session id is required")
	}
	values := record.Values
	if values == nil {
		values = map[string]any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", record.ID, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO eta_sessions (id, data, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   data = excluded.data,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		record.ID, string(data), timeToUnixMillis(record.ExpiresAt), timeToUnixMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// DeleteSession removes a session. Missing ids are not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if s == nil || s.sqlDB == nil {
		return storage.ErrNotConfigured
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM eta_sessions WHERE id = ?`, strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions expired at now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, storage.ErrNotConfigured
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM eta_sessions WHERE expires_at > 0 AND expires_at <= ?`, timeToUnixMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
