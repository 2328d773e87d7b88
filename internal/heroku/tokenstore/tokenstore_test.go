package tokenstore

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/crypto"
)

func testBox(t *testing.T) *crypto.Box {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, crypto.KeySize))
	box, err := crypto.NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return box
}

func TestGetOnMissingFileReturnsNoRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := New(path, testBox(t))

	rec, err := store.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for missing file, got %+v", rec)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := New(path, testBox(t))

	want := Record{AccessToken: "tok", TokenType: "Bearer", Scope: []string{"global"}, ObtainedAt: "2026-01-01T00:00:00Z"}
	if err := store.Put("u1", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.AccessToken != want.AccessToken {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestPutPersistsAcrossNewStoreInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	box := testBox(t)

	s1 := New(path, box)
	if err := s1.Put("u1", Record{AccessToken: "tok1", ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2 := New(path, box)
	got, err := s2.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.AccessToken != "tok1" {
		t.Fatalf("expected record to survive reload, got %+v", got)
	}
}

func TestGetWithWrongKeyIsFatalForThatUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	box1 := testBox(t)

	s1 := New(path, box1)
	if err := s1.Put("u1", Record{AccessToken: "tok1", ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	otherKey := base64.StdEncoding.EncodeToString(append(make([]byte, crypto.KeySize-1), 1))
	box2, err := crypto.NewBox(otherKey)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	s2 := New(path, box2)

	if _, err := s2.Get("u1"); err == nil {
		t.Fatal("expected decrypt failure with mismatched key")
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := New(path, testBox(t))

	if err := store.Put("u1", Record{AccessToken: "tok1", ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete("u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := store.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil record after delete, got %+v", got)
	}
}

func TestMultipleUsersAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := New(path, testBox(t))

	if err := store.Put("u1", Record{AccessToken: "tok1", ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put u1: %v", err)
	}
	if err := store.Put("u2", Record{AccessToken: "tok2", ObtainedAt: "now"}); err != nil {
		t.Fatalf("Put u2: %v", err)
	}

	got1, _ := store.Get("u1")
	got2, _ := store.Get("u2")
	if got1.AccessToken == got2.AccessToken {
		t.Fatal("expected independent records per user")
	}
}
