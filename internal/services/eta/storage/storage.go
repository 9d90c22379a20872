// Package storage declares the persistence contracts for framework-owned
// state. Session values are the only state the framework itself persists;
// modules bring their own tables through migrations.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by nil or closed stores.
var ErrNotConfigured = errors.New("storage is not configured")

// SessionRecord is one persisted session.
type SessionRecord struct {
	ID        string
	Values    map[string]any
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r SessionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// SessionStore persists session values by id.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (SessionRecord, bool, error)
	PutSession(ctx context.Context, record SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

// SessionSweeper is implemented by stores that need expired sessions
// removed explicitly.
type SessionSweeper interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
