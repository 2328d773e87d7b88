package facade

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/catalog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/crypto"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/executor"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/herokuerr"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/oauthsvc"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/tokenstore"
)

const fixtureSchema = `{
  "definitions": {
    "app": {
      "title": "Heroku Platform API - App",
      "description": "An app.",
      "links": [
        {
          "rel": "list",
          "title": "List",
          "description": "List existing apps.",
          "href": "/apps",
          "method": "GET"
        }
      ]
    }
  }
}`

type fakeHTTPClient struct {
	do func(req *http.Request) (*http.Response, error)
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) { return f.do(req) }

func newTestFacade(t *testing.T) *Facade {
	t.Helper()

	schemaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fixtureSchema))
	}))
	t.Cleanup(schemaServer.Close)

	log := applog.New("TEST", "error")
	catalogSvc := catalog.New(schemaServer.URL, "", "application/json", filepath.Join(t.TempDir(), "cache.json"), http.DefaultClient, log)
	if err := catalogSvc.Refresh(context.Background(), true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	key := base64.StdEncoding.EncodeToString(make([]byte, crypto.KeySize))
	box, err := crypto.NewBox(key)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	store := tokenstore.New(filepath.Join(t.TempDir(), "tokens.json"), box)
	oauthSvc := oauthsvc.New("client-id", "client-secret", "https://authorize.example", "https://token.example", "https://agent.example/callback", "global", store, log)

	client := &fakeHTTPClient{do: func(req *http.Request) (*http.Response, error) {
		t.Fatal("upstream should not be called in this test")
		return nil, nil
	}}
	resolver := func(id string) (operation.Operation, bool) { return catalogSvc.Lookup(id) }
	rootSchema := func() map[string]any { return catalogSvc.RootSchema() }
	noToken := func(ctx context.Context, userID string) (string, bool, error) { return "", false, nil }

	exec := executor.New(resolver, rootSchema, noToken, client, executor.Config{
		APIBaseURL:       "https://api.heroku.com",
		AcceptHeader:     "application/json",
		AllowWrites:      true,
		ConfirmSecret:    []byte("test-secret"),
		MaxBodyBytes:     200_000,
		BodyPreviewChars: 500,
	}, log)

	return New(catalogSvc, oauthSvc, exec, "x-user-id", log)
}

func TestSearchFindsSeededOperation(t *testing.T) {
	f := newTestFacade(t)

	results, err := f.Search(context.Background(), SearchParams{Query: "list apps"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].OperationID == "" {
		t.Fatalf("expected a populated operation id")
	}
}

func TestExecuteSurfacesAuthRequiredWhenNoCredential(t *testing.T) {
	f := newTestFacade(t)

	ops := f.catalogSvc.Operations()
	if len(ops) == 0 {
		t.Fatalf("expected at least one seeded operation")
	}

	_, err := f.Execute(context.Background(), "user1", executor.Request{OperationID: ops[0].OperationID})
	herr, ok := err.(*herokuerr.Error)
	if !ok {
		t.Fatalf("expected a *herokuerr.Error, got %T: %v", err, err)
	}
	if herr.Code != herokuerr.CodeAuthRequired {
		t.Fatalf("expected AUTH_REQUIRED (no credential vended), got %v", herr.Code)
	}
}

func TestAuthStatusReportsUnauthenticatedForUnknownUser(t *testing.T) {
	f := newTestFacade(t)

	status, err := f.AuthStatus("never-seen-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Authenticated {
		t.Fatalf("expected unauthenticated status for an unknown user")
	}
}

func TestResolveCallerIDFallsBackToDefault(t *testing.T) {
	f := newTestFacade(t)

	if got := f.ResolveCallerID(nil); got != defaultCallerID {
		t.Fatalf("expected default caller id, got %q", got)
	}

	h := http.Header{}
	h.Set("x-user-id", "u-42")
	if got := f.ResolveCallerID(h); got != "u-42" {
		t.Fatalf("expected u-42, got %q", got)
	}
}

func TestToolManifestListsThreeOperations(t *testing.T) {
	f := newTestFacade(t)

	manifest := f.ToolManifest()
	if len(manifest) != 3 {
		t.Fatalf("expected 3 tool descriptors, got %d", len(manifest))
	}
	names := map[string]bool{}
	for _, d := range manifest {
		names[d.Name] = true
	}
	for _, want := range []string{"search", "execute", "auth_status"} {
		if !names[want] {
			t.Fatalf("expected manifest to include %q", want)
		}
	}
}
