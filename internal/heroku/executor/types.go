// Package executor implements the end-to-end execute pipeline: validation,
// the dry-run/confirmation write gate, retried upstream calls, redaction,
// truncation, a per-user read-through cache, and the error taxonomy.
//
// Per spec.md §9's "abstract collaborators over inheritance" guidance, the
// executor depends on exactly four capabilities, three modeled as plain
// function types and the HTTP transport as a one-method interface, so tests
// can substitute fakes without a mock framework.
package executor

import (
	"context"
	"net/http"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
)

// OperationResolver looks up an operation by its stable external id.
type OperationResolver func(operationID string) (operation.Operation, bool)

// RootSchemaProvider returns the verbatim upstream root schema, or nil if
// it has never been populated.
type RootSchemaProvider func() map[string]any

// TokenVendor returns a usable access token for userID. ok is false when no
// vendable token exists.
type TokenVendor func(ctx context.Context, userID string) (token string, ok bool, err error)

// HTTPClient is the one capability the executor needs for transport. The
// standard *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is the input to Execute.
type Request struct {
	OperationID       string         `json:"operation_id"`
	PathParams        map[string]string `json:"path_params,omitempty"`
	QueryParams       map[string]any `json:"query_params,omitempty"`
	Body              any            `json:"body,omitempty"`
	DryRun            bool           `json:"dry_run,omitempty"`
	ConfirmWriteToken string         `json:"confirm_write_token,omitempty"`
}

// RequestInfo describes the rendered upstream request.
type RequestInfo struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	OperationID string `json:"operation_id"`
}

// Response is the output of Execute.
type Response struct {
	Request   RequestInfo       `json:"request"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      any               `json:"body"`
	RequestID string            `json:"request_id,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}
