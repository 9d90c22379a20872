// Package memory provides an in-process session store for tests and
// single-process development servers.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/eta/internal/services/eta/storage"
)

// Store keeps sessions in a map. Values are copied through JSON on the way
// in and out so callers never share maps with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

var (
	_ storage.SessionStore   = (*Store)(nil)
	_ storage.SessionSweeper = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{sessions: map[string]entry{}, now: time.Now}
}

// GetSession loads an unexpired session.
func (s *Store) GetSession(_ context.Context, id string) (storage.SessionRecord, bool, error) {
	if s == nil {
		return storage.SessionRecord{}, false, storage.ErrNotConfigured
	}
	s.mu.RLock()
	e, ok := s.sessions[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return storage.SessionRecord{}, false, nil
	}
	record := storage.SessionRecord{ID: id, ExpiresAt: e.expiresAt}
	if record.Expired(s.now()) {
		return storage.SessionRecord{}, false, nil
	}
	if err := json.Unmarshal(e.data, &record.Values); err != nil {
		return storage.SessionRecord{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	if record.Values == nil {
		record.Values = map[string]any{}
	}
	return record, true, nil
}

// PutSession stores a session.
func (s *Store) PutSession(_ context.Context, record storage.SessionRecord) error {
	if s == nil {
		return storage.ErrNotConfigured
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	values := record.Values
	if values == nil {
		values = map[string]any{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	s.mu.Lock()
	s.sessions[id] = entry{data: data, expiresAt: record.ExpiresAt}
	s.mu.Unlock()
	return nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	if s == nil {
		return storage.ErrNotConfigured
	}
	s.mu.Lock()
	delete(s.sessions, strings.TrimSpace(id))
	s.mu.Unlock()
	return nil
}

// DeleteExpiredSessions removes sessions expired at now.
func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	if s == nil {
		return 0, storage.ErrNotConfigured
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, e := range s.sessions {
		if (storage.SessionRecord{ExpiresAt: e.expiresAt}).Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
