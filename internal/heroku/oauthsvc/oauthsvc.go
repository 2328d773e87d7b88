// Package oauthsvc brokers the authorization-code and refresh-token OAuth
// flows on behalf of each caller: a state-CSRF ledger for the authorization
// step, token exchange at callback, and expiry-aware access-token vending
// with proactive refresh.
//
// Built on golang.org/x/oauth2, the same library the teacher uses for its
// client_credentials/password flows in shared/auth.go, generalized here to
// the authorization-code grant.
package oauthsvc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/tokenstore"
)

// pendingTTL is how long an authorization state nonce remains valid.
const pendingTTL = 10 * time.Minute

type pendingState struct {
	userID    string
	createdAt time.Time
}

// Service owns the OAuth configuration, the pending-state ledger, and the
// token store it persists to.
type Service struct {
	cfg   oauth2.Config
	store *tokenstore.Store
	log   *applog.Logger

	mu      sync.Mutex
	pending map[string]pendingState
}

// New builds an OAuth service against the given upstream endpoints and
// client credentials.
func New(clientID, clientSecret, authorizeURL, tokenURL, redirectURI, scope string, store *tokenstore.Store, log *applog.Logger) *Service {
	var scopes []string
	if scope != "" {
		scopes = []string{scope}
	}
	return &Service{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authorizeURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:   store,
		log:     log,
		pending: make(map[string]pendingState),
	}
}

// AuthorizationURL mints a fresh state nonce, records it as pending for
// userID, and returns the upstream authorization URL.
func (s *Service) AuthorizationURL(userID string) (string, error) {
	state, err := randomState()
	if err != nil {
		return "", fmt.Errorf("oauthsvc: generate state: %w", err)
	}

	s.mu.Lock()
	s.pending[state] = pendingState{userID: userID, createdAt: time.Now()}
	s.mu.Unlock()

	return s.cfg.AuthCodeURL(state), nil
}

// HandleCallback resolves a pending state, exchanges the authorization code
// for a token, and persists it for the state's user. The pending entry is
// always removed, whether or not the callback succeeds.
func (s *Service) HandleCallback(ctx context.Context, state, code string) error {
	s.mu.Lock()
	entry, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("oauthsvc: invalid state")
	}
	if time.Since(entry.createdAt) > pendingTTL {
		return fmt.Errorf("oauthsvc: expired state")
	}

	tok, err := s.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauthsvc: code exchange: %w", err)
	}

	rec := recordFromToken(tok)
	if err := s.store.Put(entry.userID, rec); err != nil {
		return fmt.Errorf("oauthsvc: persist token: %w", err)
	}
	return nil
}

// AccessToken vends a usable access token for userID, refreshing it first if
// it is within 60 seconds of expiry. ok is false when no vendable token
// exists (never authenticated, or expired with nothing to refresh).
func (s *Service) AccessToken(ctx context.Context, userID string) (token string, ok bool, err error) {
	rec, err := s.store.Get(userID)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}

	if rec.ExpiresAt == "" {
		return rec.AccessToken, true, nil
	}

	expiresAt, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil {
		return rec.AccessToken, true, nil
	}

	if time.Now().Before(expiresAt.Add(-60 * time.Second)) {
		return rec.AccessToken, true, nil
	}

	if rec.RefreshToken == "" {
		return "", false, nil
	}

	src := s.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		s.log.Warnf("refresh", "refresh failed for user: %v", err)
		return "", false, nil
	}

	newRec := recordFromToken(fresh)
	if newRec.RefreshToken == "" {
		newRec.RefreshToken = rec.RefreshToken
	}
	if err := s.store.Put(userID, newRec); err != nil {
		return "", false, err
	}
	return newRec.AccessToken, true, nil
}

// Status reports the caller's current authentication state for auth_status.
func (s *Service) Status(userID string) (authenticated bool, scopes []string, expiresAt string, err error) {
	rec, err := s.store.Get(userID)
	if err != nil {
		return false, nil, "", err
	}
	if rec == nil {
		return false, nil, "", nil
	}
	return true, rec.Scope, rec.ExpiresAt, nil
}

// SweepPending runs until ctx is canceled, periodically removing expired
// pending states. Intended to run as a single background goroutine.
func (s *Service) SweepPending(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for state, entry := range s.pending {
		if now.Sub(entry.createdAt) > pendingTTL {
			delete(s.pending, state)
		}
	}
}

func recordFromToken(tok *oauth2.Token) tokenstore.Record {
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	rec := tokenstore.Record{
		AccessToken:  tok.AccessToken,
		TokenType:    tokenType,
		RefreshToken: tok.RefreshToken,
		ObtainedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if !tok.Expiry.IsZero() {
		rec.ExpiresAt = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		rec.Scope = splitScope(raw)
	}
	return rec
}

func splitScope(raw string) []string {
	replacer := strings.NewReplacer(",", " ")
	fields := strings.Fields(replacer.Replace(raw))
	return fields
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
