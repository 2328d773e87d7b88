package oauthsvc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/crypto"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/tokenstore"
)

func newTestService(t *testing.T, tokenURL, authorizeURL string) (*Service, *tokenstore.Store) {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, crypto.KeySize))
	box, err := crypto.NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	store := tokenstore.New(filepath.Join(t.TempDir(), "tokens.json"), box)
	log := applog.New("OAUTH", "error")
	svc := New("client-id", "client-secret", authorizeURL, tokenURL, "https://agent.example/callback", "global", store, log)
	return svc, store
}

func TestAuthorizationURLContainsStateAndClientID(t *testing.T) {
	svc, _ := newTestService(t, "https://token.example", "https://authorize.example/oauth/authorize")

	url, err := svc.AuthorizationURL("u1")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	if !strings.Contains(url, "client_id=client-id") {
		t.Fatalf("expected client_id in url: %s", url)
	}
	if !strings.Contains(url, "state=") {
		t.Fatalf("expected state in url: %s", url)
	}
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	svc, _ := newTestService(t, "https://token.example", "https://authorize.example")

	err := svc.HandleCallback(context.Background(), "nonexistent-state", "code")
	if err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestHandleCallbackRejectsExpiredState(t *testing.T) {
	svc, _ := newTestService(t, "https://token.example", "https://authorize.example")

	url, _ := svc.AuthorizationURL("u1")
	state := extractState(t, url)

	svc.mu.Lock()
	entry := svc.pending[state]
	entry.createdAt = time.Now().Add(-11 * time.Minute)
	svc.pending[state] = entry
	svc.mu.Unlock()

	if err := svc.HandleCallback(context.Background(), state, "code"); err == nil {
		t.Fatal("expected error for expired state")
	}
}

func TestHandleCallbackExchangesAndPersists(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-123",
			"token_type":    "Bearer",
			"refresh_token": "refresh-123",
			"expires_in":    3600,
			"scope":         "global identity",
		})
	}))
	defer ts.Close()

	svc, store := newTestService(t, ts.URL, "https://authorize.example")
	url, _ := svc.AuthorizationURL("u1")
	state := extractState(t, url)

	if err := svc.HandleCallback(context.Background(), state, "auth-code"); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	rec, err := store.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.AccessToken != "access-123" {
		t.Fatalf("expected persisted token, got %+v", rec)
	}
	if len(rec.Scope) != 2 {
		t.Fatalf("expected scope to be split, got %v", rec.Scope)
	}
}

func TestAccessTokenWithoutExpiryReturnsAsIs(t *testing.T) {
	svc, store := newTestService(t, "https://token.example", "https://authorize.example")
	if err := store.Put("u1", tokenstore.Record{AccessToken: "tok", ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tok, ok, err := svc.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if !ok || tok != "tok" {
		t.Fatalf("got %q ok=%v", tok, ok)
	}
}

func TestAccessTokenNoRecordReturnsNotOK(t *testing.T) {
	svc, _ := newTestService(t, "https://token.example", "https://authorize.example")

	_, ok, err := svc.AccessToken(context.Background(), "unknown-user")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unauthenticated user")
	}
}

func TestAccessTokenExpiredWithNoRefreshReturnsNotOK(t *testing.T) {
	svc, store := newTestService(t, "https://token.example", "https://authorize.example")
	past := time.Now().Add(-1 * time.Hour).UTC().Format(time.RFC3339)
	if err := store.Put("u1", tokenstore.Record{AccessToken: "tok", ExpiresAt: past, ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, ok, err := svc.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false with expired token and no refresh token")
	}
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "refreshed-456",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	svc, store := newTestService(t, ts.URL, "https://authorize.example")
	soon := time.Now().Add(30 * time.Second).UTC().Format(time.RFC3339)
	if err := store.Put("u1", tokenstore.Record{
		AccessToken:  "stale",
		RefreshToken: "refresh-abc",
		ExpiresAt:    soon,
		ObtainedAt:   "now",
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tok, ok, err := svc.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if !ok || tok != "refreshed-456" {
		t.Fatalf("expected refreshed token, got %q ok=%v", tok, ok)
	}

	rec, _ := store.Get("u1")
	if rec.RefreshToken != "refresh-abc" {
		t.Fatalf("expected old refresh token preserved when response omits one, got %q", rec.RefreshToken)
	}
}

func TestStatusReflectsPersistedRecord(t *testing.T) {
	svc, store := newTestService(t, "https://token.example", "https://authorize.example")

	authenticated, _, _, err := svc.Status("u1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if authenticated {
		t.Fatal("expected unauthenticated before any token stored")
	}

	if err := store.Put("u1", tokenstore.Record{AccessToken: "tok", Scope: []string{"global"}, ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	authenticated, scopes, _, err := svc.Status("u1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !authenticated || len(scopes) != 1 {
		t.Fatalf("expected authenticated with scope, got authenticated=%v scopes=%v", authenticated, scopes)
	}
}

func extractState(t *testing.T, rawURL string) string {
	t.Helper()
	const marker = "state="
	idx := strings.Index(rawURL, marker)
	if idx == -1 {
		t.Fatalf("no state param in %s", rawURL)
	}
	rest := rawURL[idx+len(marker):]
	if amp := strings.Index(rest, "&"); amp != -1 {
		rest = rest[:amp]
	}
	return rest
}
