package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/louisbranch/eta/internal/services/eta/platform/sessioncookie"
	"github.com/louisbranch/eta/internal/services/eta/storage"
	"github.com/louisbranch/eta/internal/services/eta/storage/memory"
)

func newTestManager(store storage.SessionStore) *Manager {
	m := NewManager(store, Options{Secret: "test-secret", TTL: time.Hour})
	n := 0
	m.newID = func() string {
		n++
		return "sid-" + strconv.Itoa(n)
	}
	return m
}

func requestWithCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessioncookie.Name {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return req
}

func TestManagerSaveAndLoad(t *testing.T) {
	t.Parallel()

	store := memory.New()
	m := newTestManager(store)
	ctx := context.Background()

	s, err := m.FromRequest(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if s.ID() != "sid-1" || !s.IsNew() {
		t.Fatalf("new session = %q new=%v", s.ID(), s.IsNew())
	}
	s.Set(KeyUserID, "u1")

	rec := httptest.NewRecorder()
	if err := m.Save(ctx, rec, httptest.NewRequest(http.MethodGet, "/", nil), s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.IsNew() {
		t.Fatal("saved session should not be new")
	}

	loaded, err := m.FromRequest(ctx, requestWithCookie(t, rec))
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if loaded.ID() != "sid-1" || loaded.IsNew() {
		t.Fatalf("loaded = %q new=%v", loaded.ID(), loaded.IsNew())
	}
	if id, _ := loaded.UserID(); id != "u1" {
		t.Fatalf("userid = %q", id)
	}
}

func TestManagerRejectsForgedCookie(t *testing.T) {
	t.Parallel()

	store := memory.New()
	_ = store.PutSession(context.Background(), storage.SessionRecord{ID: "victim", Values: map[string]any{KeyUserID: "admin"}})
	m := newTestManager(store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessioncookie.Name, Value: "s:victim.forged"})
	s, err := m.FromRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if s.ID() == "victim" || s.IsLoggedIn() {
		t.Fatalf("forged cookie loaded session %q", s.ID())
	}
}

func TestManagerRegenerate(t *testing.T) {
	t.Parallel()

	store := memory.New()
	m := newTestManager(store)
	ctx := context.Background()
	s := New("before")
	s.Set(KeyAuthFrom, "/post/edit")
	_ = m.Save(ctx, httptest.NewRecorder(), nil, s)

	rec := httptest.NewRecorder()
	if err := m.Regenerate(ctx, rec, nil, s); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if s.ID() == "before" {
		t.Fatal("expected a new id")
	}
	if _, ok, _ := store.GetSession(ctx, "before"); ok {
		t.Fatal("old session should be gone")
	}
	loaded, _, _ := store.GetSession(ctx, s.ID())
	if loaded.Values[KeyAuthFrom] != "/post/edit" {
		t.Fatalf("values lost: %#v", loaded.Values)
	}
}

func TestManagerDestroy(t *testing.T) {
	t.Parallel()

	store := memory.New()
	m := newTestManager(store)
	ctx := context.Background()
	s := New("gone")
	_ = m.Save(ctx, httptest.NewRecorder(), nil, s)

	rec := httptest.NewRecorder()
	if err := m.Destroy(ctx, rec, nil, s); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store len = %d", store.Len())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookies = %+v", cookies)
	}
	if !s.Destroyed() {
		t.Fatal("session should be marked destroyed")
	}

	s.Set(KeyLastPage, "/after")
	if err := m.Save(ctx, httptest.NewRecorder(), nil, s); err != nil {
		t.Fatalf("Save after destroy: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("destroyed session written back, store len = %d", store.Len())
	}
}

func TestLookupFromRequest(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	_ = store.PutSession(ctx, storage.SessionRecord{ID: "abc", Values: map[string]any{KeyUserID: "9"}})

	values, err := LookupFromRequest(ctx, httptest.NewRequest(http.MethodGet, "/", nil), store, "")
	if err != nil || values != nil {
		t.Fatalf("no cookie = %v, %v", values, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessioncookie.Name, Value: "s%3Aabc.sig"})
	values, err = LookupFromRequest(ctx, req, store, "")
	if err != nil {
		t.Fatalf("LookupFromRequest: %v", err)
	}
	if values[KeyUserID] != "9" {
		t.Fatalf("values = %#v", values)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessioncookie.Name, Value: "s:missing"})
	if values, _ := LookupFromRequest(ctx, req, store, ""); values != nil {
		t.Fatalf("unknown sid = %#v", values)
	}
	if _, err := LookupFromRequest(ctx, req, nil, ""); err == nil {
		t.Fatal("expected error for nil store")
	}
}
