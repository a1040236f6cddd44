package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/org/passkeeper/internal/auth"
	"github.com/org/passkeeper/internal/config"
	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/storage"
)

const testPassword = "Str0ng!Pass"

func newTestServer(t *testing.T) (*Server, *storage.SQLiteStore) {
	t.Helper()
	return newTestServerWithConfig(t, Config{})
}

func newTestServerWithConfig(t *testing.T, cfg Config) (*Server, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(store.Close)

	key, _ := crypto.GenerateKey()
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	hasher, err := crypto.NewHasher(crypto.MinHashCost)
	if err != nil {
		t.Fatalf("creating hasher: %v", err)
	}
	tokens, err := auth.NewTokenService(strings.Repeat("s", 48), 0, store)
	if err != nil {
		t.Fatalf("creating token service: %v", err)
	}
	return NewServer(store, tokens, hasher, cipher, cfg), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, handler, http.MethodPost, path, body, token)
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, handler, http.MethodGet, path, nil, token)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("expected %d, got %d: %s", code, w.Code, w.Body.String())
	}
}

// register creates an account and returns its id and session token.
func register(t *testing.T, handler http.Handler, username string) (int64, string) {
	t.Helper()
	w := postJSON(t, handler, "/api/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": testPassword,
	}, "")
	expectStatus(t, w, http.StatusCreated)
	body := decodeBody(t, w)
	user := body["user"].(map[string]any)
	return int64(user["id"].(float64)), body["token"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()

	w := getJSON(t, h, "/health", "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["database"] != "connected" {
		t.Errorf("unexpected health body: %v", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestHealthReportsDatabaseDown(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.BuildRouter()
	store.Close()

	w := getJSON(t, h, "/health", "")
	expectStatus(t, w, http.StatusServiceUnavailable)
	if body := decodeBody(t, w); body["database"] != "disconnected" {
		t.Errorf("expected disconnected database, got %v", body)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()

	w := getJSON(t, h, "/api/nope", "")
	expectStatus(t, w, http.StatusNotFound)
	if body := decodeBody(t, w); body["error"] == nil {
		t.Errorf("expected error field, got %v", body)
	}

	w = getJSON(t, h, "/api", "")
	expectStatus(t, w, http.StatusOK)
}

func TestRegisterLoginFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()

	w := postJSON(t, h, "/api/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": testPassword,
	}, "")
	expectStatus(t, w, http.StatusCreated)
	raw := w.Body.String()
	if strings.Contains(raw, "password_hash") || strings.Contains(raw, "$2a$") {
		t.Fatalf("registration response leaks the hash: %s", raw)
	}

	w = postJSON(t, h, "/api/auth/register", map[string]string{
		"username": "alice", "email": "other@example.com", "password": testPassword,
	}, "")
	expectStatus(t, w, http.StatusConflict)
	if body := decodeBody(t, w); body["error"] != "username already exists" {
		t.Errorf("unexpected conflict message: %v", body)
	}

	w = postJSON(t, h, "/api/auth/register", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "weak",
	}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = postJSON(t, h, "/api/auth/login", map[string]string{"identifier": "alice@example.com", "password": testPassword}, "")
	expectStatus(t, w, http.StatusOK)
	token := decodeBody(t, w)["token"].(string)

	w = getJSON(t, h, "/api/auth/profile", token)
	expectStatus(t, w, http.StatusOK)
	user := decodeBody(t, w)["user"].(map[string]any)
	if user["username"] != "alice" || user["last_login"] == nil {
		t.Errorf("unexpected profile: %v", user)
	}

	for _, creds := range []map[string]string{
		{"identifier": "alice", "password": "Wr0ng!Pass"},
		{"identifier": "nobody", "password": testPassword},
	} {
		w = postJSON(t, h, "/api/auth/login", creds, "")
		expectStatus(t, w, http.StatusUnauthorized)
		if body := decodeBody(t, w); body["error"] != "invalid credentials" {
			t.Errorf("expected generic message, got %v", body)
		}
	}
}

func TestAuthGateResponses(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()

	w := getJSON(t, h, "/api/passwords", "")
	expectStatus(t, w, http.StatusUnauthorized)
	if body := decodeBody(t, w); body["error"] != "access token required" {
		t.Errorf("unexpected message: %v", body)
	}

	w = getJSON(t, h, "/api/passwords", "garbage")
	expectStatus(t, w, http.StatusUnauthorized)
	if body := decodeBody(t, w); body["error"] != "invalid token" {
		t.Errorf("unexpected message: %v", body)
	}

	_, token := register(t, h, "carol")
	w = postJSON(t, h, "/api/auth/logout", nil, token)
	expectStatus(t, w, http.StatusNoContent)

	w = getJSON(t, h, "/api/passwords", token)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestDeactivatedAccountTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()
	id, token := register(t, h, "dave")

	// A second session for the same account, not revoked by the delete.
	other, _, err := srv.tokens.Issue(id)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	w := doJSON(t, h, http.MethodDelete, "/api/auth/account", map[string]string{"password": testPassword}, token)
	expectStatus(t, w, http.StatusNoContent)

	w = getJSON(t, h, "/api/auth/profile", other)
	expectStatus(t, w, http.StatusUnauthorized)
	if body := decodeBody(t, w); body["error"] != "user not found or inactive" {
		t.Errorf("unexpected message: %v", body)
	}
}

func TestEntryCRUDAndOwnership(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()
	_, owner := register(t, h, "owner")
	_, intruder := register(t, h, "intruder")

	w := postJSON(t, h, "/api/passwords", map[string]any{
		"title":    "GitHub",
		"url":      "https://github.com",
		"username": "octo",
		"password": "p@ss1",
		"notes":    "2fa backup",
		"category": "Work",
	}, owner)
	expectStatus(t, w, http.StatusCreated)
	created := decodeBody(t, w)["password"].(map[string]any)
	id := int64(created["id"].(float64))
	path := fmt.Sprintf("/api/passwords/%d", id)

	// Listing carries no plaintext.
	w = getJSON(t, h, "/api/passwords", owner)
	expectStatus(t, w, http.StatusOK)
	list := decodeBody(t, w)
	if list["count"].(float64) != 1 {
		t.Fatalf("expected 1 entry, got %v", list)
	}
	item := list["passwords"].([]any)[0].(map[string]any)
	if _, ok := item["password"]; ok {
		t.Errorf("listing must not include password: %v", item)
	}
	if item["has_notes"] != true {
		t.Errorf("expected has_notes, got %v", item)
	}

	w = getJSON(t, h, "/api/passwords?reveal=true", owner)
	expectStatus(t, w, http.StatusOK)
	item = decodeBody(t, w)["passwords"].([]any)[0].(map[string]any)
	if item["password"] != "p@ss1" {
		t.Errorf("expected revealed password, got %v", item)
	}

	w = getJSON(t, h, path, owner)
	expectStatus(t, w, http.StatusOK)
	got := decodeBody(t, w)["password"].(map[string]any)
	if got["password"] != "p@ss1" || got["notes"] != "2fa backup" {
		t.Errorf("unexpected entry: %v", got)
	}

	// Another account sees nothing.
	expectStatus(t, getJSON(t, h, path, intruder), http.StatusNotFound)
	expectStatus(t, doJSON(t, h, http.MethodPut, path, map[string]any{"title": "x"}, intruder), http.StatusNotFound)
	expectStatus(t, doJSON(t, h, http.MethodDelete, path, nil, intruder), http.StatusNotFound)

	w = doJSON(t, h, http.MethodPut, path, map[string]any{"password": "n3w", "notes": ""}, owner)
	expectStatus(t, w, http.StatusOK)
	if upd := decodeBody(t, w)["password"].(map[string]any); upd["has_notes"] != false {
		t.Errorf("expected notes cleared, got %v", upd)
	}

	w = getJSON(t, h, path, owner)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["password"].(map[string]any); got["password"] != "n3w" {
		t.Errorf("expected updated password, got %v", got)
	}

	expectStatus(t, getJSON(t, h, "/api/passwords/abc", owner), http.StatusBadRequest)

	w = getJSON(t, h, "/api/passwords/stats", owner)
	expectStatus(t, w, http.StatusOK)
	stats := decodeBody(t, w)["stats"].(map[string]any)
	if stats["total_passwords"].(float64) != 1 || stats["accessed_today"].(float64) != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}

	w = getJSON(t, h, "/api/passwords/categories", owner)
	expectStatus(t, w, http.StatusOK)
	cats := decodeBody(t, w)["categories"].([]any)
	if len(cats) != 1 || cats[0].(map[string]any)["category"] != "Work" {
		t.Errorf("unexpected categories: %v", cats)
	}

	w = postJSON(t, h, "/api/passwords/bulk-delete", map[string]any{"ids": []int64{}}, owner)
	expectStatus(t, w, http.StatusBadRequest)

	w = postJSON(t, h, "/api/passwords/bulk-delete", map[string]any{"ids": []int64{id}}, intruder)
	expectStatus(t, w, http.StatusOK)
	if n := decodeBody(t, w)["deleted"].(float64); n != 0 {
		t.Errorf("intruder deleted %v entries", n)
	}

	expectStatus(t, doJSON(t, h, http.MethodDelete, path, nil, owner), http.StatusNoContent)
	expectStatus(t, getJSON(t, h, path, owner), http.StatusNotFound)
}

func TestEntryValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()
	_, token := register(t, h, "eve")

	w := postJSON(t, h, "/api/passwords", map[string]any{
		"title": "x", "url": "not a url", "username": "u", "password": "p",
	}, token)
	expectStatus(t, w, http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/passwords", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestAuthRateLimit(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, Config{
		AuthRateLimit: config.RateLimit{Requests: 2, Window: time.Hour},
	})
	h := srv.BuildRouter()

	creds := map[string]string{"identifier": "ghost", "password": "x"}
	for i := 0; i < 2; i++ {
		expectStatus(t, postJSON(t, h, "/api/auth/login", creds, ""), http.StatusUnauthorized)
	}
	expectStatus(t, postJSON(t, h, "/api/auth/login", creds, ""), http.StatusTooManyRequests)

	// Other routes are not affected by the auth limiter.
	expectStatus(t, getJSON(t, h, "/api", ""), http.StatusOK)
}

func TestAuthRateLimitIgnoresForwardedHeaders(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, Config{
		AuthRateLimit: config.RateLimit{Requests: 2, Window: time.Hour},
	})
	h := srv.BuildRouter()

	data, _ := json.Marshal(map[string]string{"identifier": "ghost", "password": "x"})
	limited := 0
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		req.Header.Set("True-Client-IP", fmt.Sprintf("192.0.2.%d", i+100))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 4 {
		t.Fatalf("expected 4 of 6 logins from one peer to be limited, got %d", limited)
	}
}

func TestRequestIDPerResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.BuildRouter()

	first := getJSON(t, h, "/api/passwords", "")
	expectStatus(t, first, http.StatusUnauthorized)
	second := getJSON(t, h, "/api/nope", "")
	expectStatus(t, second, http.StatusNotFound)

	a, b := first.Header().Get("X-Request-ID"), second.Header().Get("X-Request-ID")
	if a == "" || b == "" || a == b {
		t.Fatalf("expected distinct request ids on error responses, got %q and %q", a, b)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, Config{CORSOrigins: []string{"https://app.example.com"}})
	h := srv.BuildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/passwords", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}
}
