// Package session implements cookie-bound sessions persisted in a
// storage.SessionStore.
package session

import (
	"fmt"
	"maps"
	"strconv"
	"sync"
)

// Well-known session keys.
const (
	KeyUserID   = "userid"
	KeyLastPage = "lastPage"
	KeyAuthFrom = "authFrom"
)

// Session holds the values of one visitor session.
type Session struct {
	mu     sync.RWMutex
	id     string
	values map[string]any
	isNew  bool
	// destroyed sessions are never written back.
	destroyed bool
}

// New returns an unsaved session with id.
func New(id string) *Session {
	return &Session{id: id, values: map[string]any{}, isNew: true}
}

func existing(id string, values map[string]any) *Session {
	if values == nil {
		values = map[string]any{}
	}
	return &Session{id: id, values: values}
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// IsNew reports whether the session has never been persisted.
func (s *Session) IsNew() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isNew
}

// Get returns the value at key or nil.
func (s *Session) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// GetString returns the value at key formatted as a string.
func (s *Session) GetString(key string) string {
	switch v := s.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Set stores value at key. A nil value deletes the key.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.values, key)
		return
	}
	s.values[key] = value
}

// Delete removes key.
func (s *Session) Delete(key string) {
	s.Set(key, nil)
}

// UserID returns the logged-in user id.
func (s *Session) UserID() (string, bool) {
	if s == nil || s.Get(KeyUserID) == nil {
		return "", false
	}
	return s.GetString(KeyUserID), true
}

// IsLoggedIn reports whether a user id is stored.
func (s *Session) IsLoggedIn() bool {
	_, ok := s.UserID()
	return ok
}

// Values returns a copy of every value.
func (s *Session) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Destroyed reports whether the session was removed from its store.
func (s *Session) Destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

func (s *Session) reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.isNew = true
	s.destroyed = false
}

func (s *Session) markDestroyed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

func (s *Session) markSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isNew = false
}
