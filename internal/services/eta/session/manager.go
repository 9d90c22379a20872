package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/louisbranch/eta/internal/services/eta/platform/sessioncookie"
	"github.com/louisbranch/eta/internal/services/eta/storage"
)

// DefaultTTL is how long a session lives after its last save.
const DefaultTTL = 24 * time.Hour

// Options configures a Manager.
type Options struct {
	// Secret signs session cookies. Empty disables signing.
	Secret string
	// TTL defaults to DefaultTTL.
	TTL time.Duration
}

// Manager binds sessions to requests.
type Manager struct {
	store  storage.SessionStore
	secret string
	ttl    time.Duration
	newID  func() string
	now    func() time.Time
}

// NewManager builds a manager over store.
func NewManager(store storage.SessionStore, opts Options) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		secret: opts.Secret,
		ttl:    ttl,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Store returns the backing store.
func (m *Manager) Store() storage.SessionStore {
	return m.store
}

// FromRequest loads the session named by the request cookie, or starts a
// new one when the cookie is missing, invalid or points at nothing.
func (m *Manager) FromRequest(ctx context.Context, r *http.Request) (*Session, error) {
	if m == nil || m.store == nil {
		return nil, storage.ErrNotConfigured
	}
	if raw, ok := sessioncookie.Read(r); ok {
		if id, ok := IDFromCookie(raw, m.secret); ok {
			record, found, err := m.store.GetSession(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("load session: %w", err)
			}
			if found {
				return existing(id, record.Values), nil
			}
		}
	}
	return New(m.newID()), nil
}

// Save persists s and refreshes the cookie. A destroyed session is left
// alone.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if m == nil || m.store == nil {
		return storage.ErrNotConfigured
	}
	if s == nil {
		return errors.New("session is required")
	}
	if s.Destroyed() {
		return nil
	}
	record := storage.SessionRecord{
		ID:        s.ID(),
		Values:    s.Values(),
		ExpiresAt: m.now().Add(m.ttl).UTC(),
	}
	if err := m.store.PutSession(ctx, record); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.markSaved()
	sessioncookie.Write(w, r, Sign(record.ID, m.secret), m.ttl)
	return nil
}

// Regenerate moves s to a fresh id, keeping its values, and drops the old
// record. Call it after login to prevent fixation.
func (m *Manager) Regenerate(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if m == nil || m.store == nil {
		return storage.ErrNotConfigured
	}
	if s == nil {
		return errors.New("session is required")
	}
	oldID := s.ID()
	s.reset(m.newID())
	if err := m.store.DeleteSession(ctx, oldID); err != nil {
		return fmt.Errorf("drop old session: %w", err)
	}
	return m.Save(ctx, w, r, s)
}

// Destroy removes s from the store and clears the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	if m == nil || m.store == nil {
		return storage.ErrNotConfigured
	}
	if s == nil {
		return nil
	}
	if err := m.store.DeleteSession(ctx, s.ID()); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	s.markDestroyed()
	sessioncookie.Clear(w, r)
	return nil
}

// LookupFromRequest returns the stored values of the session named by the
// request cookie, or nil when there is no cookie, no valid id, or no record.
// It never creates a session.
func LookupFromRequest(ctx context.Context, r *http.Request, store storage.SessionStore, secret string) (map[string]any, error) {
	if store == nil {
		return nil, storage.ErrNotConfigured
	}
	raw, ok := sessioncookie.Read(r)
	if !ok {
		return nil, nil
	}
	id, ok := IDFromCookie(raw, secret)
	if !ok {
		return nil, nil
	}
	record, found, err := store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return record.Values, nil
}
