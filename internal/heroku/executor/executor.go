package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/crypto"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/herokuerr"
)

// Config bundles the Executor's tunables, mirroring spec.md §6's options.
type Config struct {
	APIBaseURL       string
	AcceptHeader     string
	AllowWrites      bool
	RequestTimeout   time.Duration
	MaxRetries       int
	ReadCacheTTL     time.Duration
	MaxBodyBytes     int
	BodyPreviewChars int
	ConfirmSecret    []byte
	// UpstreamRPS caps outbound request throughput across all users of this
	// process. Zero or negative disables the limiter (unlimited).
	UpstreamRPS float64
}

// Executor implements the execute pipeline described in spec.md §4.6. It
// depends on exactly four capabilities, never on a concrete catalog/schema
// service/token store type, so tests can substitute fakes.
type Executor struct {
	resolveOperation OperationResolver
	rootSchema       RootSchemaProvider
	vendToken        TokenVendor
	httpClient       HTTPClient

	cfg Config
	log *applog.Logger

	validators *validatorCache
	cache      *readCache
	limiter    *rate.Limiter
}

// New builds an Executor from its four capabilities and tunables. When
// cfg.UpstreamRPS is positive, every outbound attempt (including retries)
// is paced through a shared token-bucket limiter so one process never
// exceeds its configured call rate against the upstream API, regardless
// of how many callers are concurrently executing operations.
func New(resolver OperationResolver, rootSchema RootSchemaProvider, vendor TokenVendor, client HTTPClient, cfg Config, log *applog.Logger) *Executor {
	var limiter *rate.Limiter
	if cfg.UpstreamRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), int(cfg.UpstreamRPS)+1)
	}
	return &Executor{
		resolveOperation: resolver,
		rootSchema:       rootSchema,
		vendToken:        vendor,
		httpClient:       client,
		cfg:              cfg,
		log:              log,
		validators:       newValidatorCache(),
		cache:            newReadCache(),
		limiter:          limiter,
	}
}

// Execute runs the full validate/gate/send/redact pipeline for a single
// tool call on behalf of userID.
func (e *Executor) Execute(ctx context.Context, userID string, req Request) (*Response, error) {
	op, ok := e.resolveOperation(req.OperationID)
	if !ok {
		return nil, herokuerr.New(herokuerr.CodeOperationNotFound, fmt.Sprintf("unknown operation_id %q", req.OperationID))
	}

	if err := validatePathParams(op, req.PathParams); err != nil {
		return nil, err
	}
	if err := validateQueryParams(req.QueryParams); err != nil {
		return nil, err
	}
	if err := validateBody(e.validators, op, e.rootSchema(), req.Body); err != nil {
		return nil, err
	}

	renderedPath := renderPath(op.PathTemplate, req.PathParams)
	reqURL, err := buildURL(e.cfg.APIBaseURL, renderedPath, req.QueryParams)
	if err != nil {
		return nil, herokuerr.New(herokuerr.CodeValidationError, "could not build request URL: "+err.Error())
	}

	if req.DryRun {
		body := map[string]any{"dry_run": true}
		var warnings []string
		if op.IsMutating {
			body["confirm_write_token"] = crypto.ConfirmationToken(e.cfg.ConfirmSecret, userID, op.OperationID, req.PathParams, req.QueryParams, req.Body)
			if !e.cfg.AllowWrites {
				warnings = append(warnings, "writes_disabled: mutating operations are currently disabled")
			}
		}
		return &Response{
			Request:  RequestInfo{Method: op.Method, URL: reqURL, OperationID: op.OperationID},
			Status:   0,
			Headers:  map[string]string{},
			Body:     body,
			Warnings: warnings,
		}, nil
	}

	if op.IsMutating {
		if !e.cfg.AllowWrites {
			return nil, herokuerr.New(herokuerr.CodeWritesDisabled, "write operations are disabled")
		}

		expectedToken := crypto.ConfirmationToken(e.cfg.ConfirmSecret, userID, op.OperationID, req.PathParams, req.QueryParams, req.Body)
		if req.ConfirmWriteToken == "" || req.ConfirmWriteToken != expectedToken {
			return nil, herokuerr.New(herokuerr.CodeWriteConfirmationNeeded, "call with dry_run=true first, then resubmit with the returned confirm_write_token")
		}
	}

	token, ok, err := e.vendToken(ctx, userID)
	if err != nil {
		return nil, herokuerr.New(herokuerr.CodeAuthRequired, err.Error())
	}
	if !ok {
		return nil, herokuerr.New(herokuerr.CodeAuthRequired, "no valid credential for this user, authenticate first")
	}

	cKey := cacheKey(userID, op.OperationID, reqURL)
	cacheable := op.IsIdempotent() && !op.IsMutating && e.cfg.ReadCacheTTL > 0
	if cacheable {
		if cached, hit := e.cache.get(cKey); hit {
			e.log.Debugf("execute", "cache_hit operation=%s", op.OperationID)
			cached.Warnings = append(cached.Warnings, "served_from_read_cache")
			return &cached, nil
		}
	}

	headers := map[string]string{
		"Accept":        e.cfg.AcceptHeader,
		"Authorization": "Bearer " + token,
	}

	var rawBody []byte
	if req.Body != nil {
		rawBody, err = json.Marshal(req.Body)
		if err != nil {
			return nil, herokuerr.New(herokuerr.CodeValidationError, "could not marshal request body: "+err.Error())
		}
		headers["Content-Type"] = "application/json"
	}

	httpResp, rawRespBody, err := sendWithRetry(ctx, e.httpClient, e.limiter, op, op.Method, reqURL, rawBody, headers, e.cfg.RequestTimeout, e.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	cleanedHeaders, requestID := cleanHeaders(httpResp.Header)

	var decodedBody any
	if len(rawRespBody) > 0 {
		if jsonErr := json.Unmarshal(rawRespBody, &decodedBody); jsonErr != nil {
			decodedBody = string(rawRespBody)
		}
	}
	decodedBody = redactBody(decodedBody)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, herokuerr.New(herokuerr.CodeUpstreamAPIError, bodyPreview(decodedBody, e.cfg.BodyPreviewChars), httpResp.StatusCode)
	}

	var warnings []string
	truncated, warning := truncateBody(decodedBody, e.cfg.MaxBodyBytes, e.cfg.BodyPreviewChars)
	if warning != "" {
		warnings = append(warnings, warning)
	}

	resp := &Response{
		Request:   RequestInfo{Method: op.Method, URL: reqURL, OperationID: op.OperationID},
		Status:    httpResp.StatusCode,
		Headers:   cleanedHeaders,
		Body:      truncated,
		RequestID: requestID,
		Warnings:  warnings,
	}

	if cacheable {
		e.cache.put(cKey, *resp, e.cfg.ReadCacheTTL)
	}

	return resp, nil
}

var _ HTTPClient = (*http.Client)(nil)
