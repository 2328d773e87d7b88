// Package tokenstore persists one OAuth token record per caller id, encrypted
// at rest with the AEAD primitives in internal/heroku/crypto. The whole file
// is read once per process and cached in memory; writes re-serialize the
// whole file.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/crypto"
)

// Record is the token state for one caller.
type Record struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	ObtainedAt   string   `json:"obtained_at"`
}

// Store is a per-user, encrypted-at-rest token store backed by a single JSON
// file. It is safe for concurrent use within one process; the file is not
// guaranteed to be safe for concurrent writers across processes.
type Store struct {
	path string
	box  *crypto.Box

	mu        sync.Mutex
	loaded    bool
	envelopes map[string]crypto.Envelope
	decrypted map[string]Record
}

// New builds a Store backed by the given file path and encryption box.
// Nothing is read from disk until the first Get/Put/Delete call.
func New(path string, box *crypto.Box) *Store {
	return &Store{
		path: path,
		box:  box,
	}
}

// Get returns the caller's token record, or (nil, nil) if no record exists.
// A decrypt failure is returned as a fatal error for that caller, never
// retried silently.
func (s *Store) Get(userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	if rec, ok := s.decrypted[userID]; ok {
		cp := rec
		return &cp, nil
	}

	env, ok := s.envelopes[userID]
	if !ok {
		return nil, nil
	}

	plaintext, err := s.box.Open(env)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: decrypt record for user %q: %w", userID, err)
	}

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("tokenstore: unmarshal record for user %q: %w", userID, err)
	}

	s.decrypted[userID] = rec
	cp := rec
	return &cp, nil
}

// Put creates or replaces the caller's token record and persists the store.
func (s *Store) Put(userID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal record for user %q: %w", userID, err)
	}

	env, err := s.box.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("tokenstore: encrypt record for user %q: %w", userID, err)
	}

	s.envelopes[userID] = env
	s.decrypted[userID] = rec
	return s.persistLocked()
}

// Delete removes the caller's token record (explicit logout).
func (s *Store) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	delete(s.envelopes, userID)
	delete(s.decrypted, userID)
	return s.persistLocked()
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}

	s.envelopes = make(map[string]crypto.Envelope)
	s.decrypted = make(map[string]Record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("tokenstore: read %s: %w", s.path, err)
	}

	if len(data) == 0 {
		s.loaded = true
		return nil
	}

	if err := json.Unmarshal(data, &s.envelopes); err != nil {
		return fmt.Errorf("tokenstore: parse %s: %w", s.path, err)
	}

	s.loaded = true
	return nil
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("tokenstore: mkdir for %s: %w", s.path, err)
	}

	data, err := json.MarshalIndent(s.envelopes, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: marshal store: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write %s: %w", s.path, err)
	}
	return nil
}
