// Package redis provides a Redis session store so several eta processes can
// share sessions. Values are stored as JSON under "sess:<id>", the layout
// connect-redis uses.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/louisbranch/eta/internal/services/eta/storage"
)

// KeyPrefix namespaces session keys.
const KeyPrefix = "sess:"

const (
	defaultMaxIdle     = 4
	defaultIdleTimeout = 4 * time.Minute
	dialTimeout        = 2 * time.Second
)

// Store is a Redis-backed session store.
type Store struct {
	pool *redigo.Pool
	now  func() time.Time
}

var _ storage.SessionStore = (*Store)(nil)

// NewPool builds a connection pool for addr ("host:port" or a redis:// URL).
func NewPool(addr string) *redigo.Pool {
	addr = strings.TrimSpace(addr)
	return &redigo.Pool{
		MaxIdle:     defaultMaxIdle,
		IdleTimeout: defaultIdleTimeout,
		DialContext: func(ctx context.Context) (redigo.Conn, error) {
			if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
				return redigo.DialURLContext(ctx, addr, redigo.DialConnectTimeout(dialTimeout))
			}
			return redigo.DialContext(ctx, "tcp", addr, redigo.DialConnectTimeout(dialTimeout))
		},
		TestOnBorrow: func(c redigo.Conn, idleSince time.Time) error {
			if time.Since(idleSince) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Open connects to addr and verifies the server answers PING.
func Open(ctx context.Context, addr string) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	store := New(NewPool(addr))
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing pool.
func New(pool *redigo.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) conn(ctx context.Context) (redigo.Conn, error) {
	if s == nil || s.pool == nil {
		return nil, storage.ErrNotConfigured
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return conn, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := redigo.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// GetSession loads a session; Redis expires keys on its own.
func (s *Store) GetSession(ctx context.Context, id string) (storage.SessionRecord, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.SessionRecord{}, false, fmt.Errorf("session id is required")
	}
	conn, err := s.conn(ctx)
	if err != nil {
		return storage.SessionRecord{}, false, err
	}
	defer conn.Close()

	data, err := redigo.Bytes(redigo.DoContext(conn, ctx, "GET", KeyPrefix+id))
	if errors.Is(err, redigo.ErrNil) {
		return storage.SessionRecord{}, false, nil
	}
	if err != nil {
		return storage.SessionRecord{}, false, fmt.Errorf("get session: %w", err)
	}
	record := storage.SessionRecord{ID: id}
	if err := json.Unmarshal(data, &record.Values); err != nil {
		return storage.SessionRecord{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	if record.Values == nil {
		record.Values = map[string]any{}
	}
	ttl, err := redigo.Int64(redigo.DoContext(conn, ctx, "PTTL", KeyPrefix+id))
	if err == nil && ttl > 0 {
		record.ExpiresAt = s.now().Add(time.Duration(ttl) * time.Millisecond).UTC()
	}
	return record, true, nil
}

// PutSession stores a session with a TTL derived from ExpiresAt. A record
// already expired is deleted instead.
func (s *Store) PutSession(ctx context.Context, record storage.SessionRecord) error {
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
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	key := KeyPrefix + record.ID
	if record.ExpiresAt.IsZero() {
		_, err = redigo.DoContext(conn, ctx, "SET", key, data)
	} else {
		ttl := record.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			_, err = redigo.DoContext(conn, ctx, "DEL", key)
		} else {
			_, err = redigo.DoContext(conn, ctx, "SET", key, data, "PX", ttl.Milliseconds())
		}
	}
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := redigo.DoContext(conn, ctx, "DEL", KeyPrefix+strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close drains the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Close()
}
