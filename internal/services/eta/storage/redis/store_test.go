package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/louisbranch/eta/internal/services/eta/storage"
)

// fakeConn answers the handful of commands the store issues.
type fakeConn struct {
	mu   *sync.Mutex
	data map[string][]byte
	ttl  map[string]int64
	log  *[]string
}

func (c fakeConn) Close() error { return nil }
func (c fakeConn) Err() error   { return nil }
func (c fakeConn) Send(string, ...interface{}) error {
	return nil
}
func (c fakeConn) Flush() error                  { return nil }
func (c fakeConn) Receive() (interface{}, error) { return nil, nil }
func (c fakeConn) ReceiveContext(context.Context) (interface{}, error) {
	return nil, nil
}

var _ redigo.ConnWithContext = fakeConn{}

func (c fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cmd == "" {
		return nil, nil
	}
	*c.log = append(*c.log, strings.TrimSpace(cmd+" "+fmt.Sprint(args...)))
	switch cmd {
	case "PING":
		return "PONG", nil
	case "GET":
		value, ok := c.data[args[0].(string)]
		if !ok {
			return nil, nil
		}
		return value, nil
	case "SET":
		key := args[0].(string)
		c.data[key] = args[1].([]byte)
		delete(c.ttl, key)
		if len(args) == 4 && args[2] == "PX" {
			c.ttl[key] = args[3].(int64)
		}
		return "OK", nil
	case "PTTL":
		ttl, ok := c.ttl[args[0].(string)]
		if !ok {
			return int64(-1), nil
		}
		return ttl, nil
	case "DEL":
		key := args[0].(string)
		_, ok := c.data[key]
		delete(c.data, key)
		delete(c.ttl, key)
		if ok {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, errors.New("unsupported command " + cmd)
}

func (c fakeConn) DoContext(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Do(cmd, args...)
}

func newFakeStore(t *testing.T) (*Store, fakeConn) {
	t.Helper()
	log := []string{}
	conn := fakeConn{mu: &sync.Mutex{}, data: map[string][]byte{}, ttl: map[string]int64{}, log: &log}
	pool := &redigo.Pool{Dial: func() (redigo.Conn, error) { return conn, nil }}
	store := New(pool)
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestSessionRoundTrip(t *testing.T) {
	store, conn := newFakeStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	err := store.PutSession(ctx, storage.SessionRecord{
		ID:        "abc",
		Values:    map[string]any{"userid": "7"},
		ExpiresAt: now.Add(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if got := string(conn.data["sess:abc"]); got != `{"userid":"7"}` {
		t.Fatalf("stored = %q", got)
	}
	if got := conn.ttl["sess:abc"]; got != 90000 {
		t.Fatalf("ttl = %d", got)
	}

	record, ok, err := store.GetSession(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("GetSession = %v, %v", ok, err)
	}
	if record.Values["userid"] != "7" {
		t.Fatalf("values = %#v", record.Values)
	}
	if !record.ExpiresAt.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("expires = %v", record.ExpiresAt)
	}

	if err := store.DeleteSession(ctx, "abc"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, err := store.GetSession(ctx, "abc"); ok || err != nil {
		t.Fatalf("after delete = %v, %v", ok, err)
	}
}

func TestPutExpiredSessionDeletes(t *testing.T) {
	store, conn := newFakeStore(t)
	ctx := context.Background()
	conn.data["sess:gone"] = []byte(`{}`)

	err := store.PutSession(ctx, storage.SessionRecord{ID: "gone", ExpiresAt: time.Now().Add(-time.Second)})
	if err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if _, ok := conn.data["sess:gone"]; ok {
		t.Fatal("expected expired session to be deleted")
	}
}

func TestPutWithoutExpiry(t *testing.T) {
	store, conn := newFakeStore(t)
	if err := store.PutSession(context.Background(), storage.SessionRecord{ID: "forever"}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if _, ok := conn.ttl["sess:forever"]; ok {
		t.Fatal("expected no ttl")
	}
	last := (*conn.log)[len(*conn.log)-1]
	if !strings.HasPrefix(last, "SET sess:forever") {
		t.Fatalf("last command = %q", last)
	}
}

func TestPingAndValidation(t *testing.T) {
	store, _ := newFakeStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, _, err := store.GetSession(context.Background(), ""); err == nil {
		t.Fatal("expected id error")
	}
	var nilStore *Store
	if err := nilStore.DeleteSession(context.Background(), "x"); !errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("nil store err = %v", err)
	}
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected address error")
	}
}

func TestCancelledContextSkipsRedis(t *testing.T) {
	store, conn := newFakeStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := store.GetSession(ctx, "abc"); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetSession err = %v", err)
	}
	if err := store.PutSession(ctx, storage.SessionRecord{ID: "abc"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("PutSession err = %v", err)
	}
	if len(*conn.log) != 0 {
		t.Fatalf("commands sent = %v", *conn.log)
	}
}
