// Package facade is the tool-server seam: it routes the three advertised
// operations (search, execute, auth_status) to the catalog/search/executor/
// oauth components and normalizes every outcome, success or failure, into
// a uniform envelope. An external MCP transport (out of scope here) is the
// only thing that ever needs to know this package exists.
//
// Grounded on pkg/core/tools/registry.go's dispatch style: a small façade
// type holding references to the shared services, with one method per
// advertised tool and a manifest describing them — the same
// Name()/Description()/Parameters() triple the teacher gives every tool in
// pkg/core/tools/shared.
package facade

import (
	"context"
	"net/http"
	"strings"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/catalog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/executor"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/herokuerr"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/oauthsvc"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/searchindex"
)

const defaultCallerID = "default"

// Facade wires the catalog, search, executor and OAuth services behind the
// three operations a transport layer calls.
type Facade struct {
	catalogSvc   *catalog.Service
	oauthSvc     *oauthsvc.Service
	exec         *executor.Executor
	userIDHeader string
	log          *applog.Logger
}

// New builds a Facade. userIDHeader names the inbound header a transport
// should read the caller id from before calling ResolveCallerID;
// ResolveCallerID falls back to "default" when the header is absent, per
// spec.md's "no multi-tenant authz beyond the caller id" non-goal.
func New(catalogSvc *catalog.Service, oauthSvc *oauthsvc.Service, exec *executor.Executor, userIDHeader string, log *applog.Logger) *Facade {
	return &Facade{
		catalogSvc:   catalogSvc,
		oauthSvc:     oauthSvc,
		exec:         exec,
		userIDHeader: userIDHeader,
		log:          log,
	}
}

// ResolveCallerID extracts the caller id from the configured header,
// defaulting to "default" when absent or blank.
func (f *Facade) ResolveCallerID(headers http.Header) string {
	if headers == nil {
		return defaultCallerID
	}
	if v := strings.TrimSpace(headers.Get(f.userIDHeader)); v != "" {
		return v
	}
	return defaultCallerID
}

// SearchParams is the input shape for the search operation.
type SearchParams struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit,omitempty"`
	ResourceFilter []string `json:"resource_filter,omitempty"`
}

// Search finds operations matching params.Query, ranked by relevance. The
// index is rebuilt from the live catalog on every call — search is not a
// hot path, and this guarantees results never lag a schema refresh.
// EnsureReady is called first, per spec.md §4.7, so a call placed after a
// failed boot-time refresh still gets a chance to retry rather than
// searching whatever stale catalog state happens to be loaded.
func (f *Facade) Search(ctx context.Context, params SearchParams) ([]searchindex.Result, error) {
	if err := f.catalogSvc.EnsureReady(ctx); err != nil {
		f.log.Errorf("search", "catalog not ready: %v", err)
		return nil, herokuerr.New(herokuerr.CodeSchemaUnavailable, err.Error())
	}
	index := searchindex.Build(f.catalogSvc.Operations(), f.catalogSvc.DocsContext())
	return index.Search(params.Query, params.Limit, params.ResourceFilter), nil
}

// Execute runs one operation on behalf of userID.
func (f *Facade) Execute(ctx context.Context, userID string, req executor.Request) (*executor.Response, error) {
	if err := f.catalogSvc.EnsureReady(ctx); err != nil {
		f.log.Errorf("execute", "catalog not ready: %v", err)
		return nil, herokuerr.New(herokuerr.CodeSchemaUnavailable, err.Error())
	}

	resp, err := f.exec.Execute(ctx, userID, req)
	if err != nil {
		if _, ok := err.(*herokuerr.Error); !ok {
			f.log.Errorf("execute", "unexpected error for operation %q: %v", req.OperationID, err)
			return nil, herokuerr.New(herokuerr.CodeRequestFailed, err.Error())
		}
		return nil, err
	}
	return resp, nil
}

// AuthStatusResult is the output shape for the auth_status operation.
type AuthStatusResult struct {
	UserID        string   `json:"user_id"`
	Authenticated bool     `json:"authenticated"`
	Scopes        []string `json:"scopes,omitempty"`
	ExpiresAt     string   `json:"expires_at,omitempty"`
}

// AuthStatus reports whether userID currently has a usable credential.
func (f *Facade) AuthStatus(userID string) (*AuthStatusResult, error) {
	authenticated, scopes, expiresAt, err := f.oauthSvc.Status(userID)
	if err != nil {
		return nil, herokuerr.New(herokuerr.CodeAuthRequired, err.Error())
	}
	return &AuthStatusResult{
		UserID:        userID,
		Authenticated: authenticated,
		Scopes:        scopes,
		ExpiresAt:     expiresAt,
	}, nil
}

// ToolDescriptor mirrors the teacher's Name()/Description()/Parameters()
// triple for one advertised operation.
type ToolDescriptor struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	ParametersExample string `json:"parameters_example"`
}

// ToolManifest describes the three operations a transport should advertise.
func (f *Facade) ToolManifest() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "search",
			Description: "Find Heroku platform API operations matching a natural-language query, optionally filtered to specific resources.",
			ParametersExample: `{
  "query": "list apps",
  "limit": 8,
  "resource_filter": ["app"]
}`,
		},
		{
			Name:        "execute",
			Description: "Call a Heroku platform API operation by its operation_id. Mutating operations require a two-step dry_run/confirm_write_token handshake.",
			ParametersExample: `{
  "operation_id": "POST /apps",
  "path_params": {},
  "query_params": {},
  "body": {"name": "my-app"},
  "dry_run": true
}`,
		},
		{
			Name:        "auth_status",
			Description: "Report whether the calling user currently has a usable Heroku credential.",
			ParametersExample: `{}`,
		},
	}
}
