package executor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/herokuerr"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
)

const retryBackoffUnit = 150 * time.Millisecond

// renderPath substitutes {name} placeholders in the operation's path
// template with the caller-supplied, URL-escaped path param values.
func renderPath(pathTemplate string, params map[string]string) string {
	out := pathTemplate
	for name, value := range params {
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(value))
	}
	return out
}

// buildURL joins the base URL, rendered path, and query params into the
// final upstream request URL.
func buildURL(baseURL, renderedPath string, query map[string]any) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + renderedPath)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, formatQueryValue(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func formatQueryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func isRetryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status <= 599)
}

// sendWithRetry issues the upstream request, retrying only idempotent
// methods on network failure or a retryable status, up to maxRetries+1
// total attempts with a linear 150ms*attempt backoff.
func sendWithRetry(ctx context.Context, client HTTPClient, limiter *rate.Limiter, op operation.Operation, method, reqURL string, body []byte, headers map[string]string, perAttemptTimeout time.Duration, maxRetries int) (*http.Response, []byte, error) {
	attempts := 1
	if op.IsIdempotent() {
		attempts = maxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, nil, herokuerr.New(herokuerr.CodeRequestTimeout, "rate limiter wait: "+err.Error())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		req, err := newUpstreamRequest(attemptCtx, method, reqURL, body, headers)
		if err != nil {
			cancel()
			return nil, nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, herokuerr.New(herokuerr.CodeRequestTimeout, "upstream request timed out")
			}
			if attempt < attempts {
				time.Sleep(retryBackoffUnit * time.Duration(attempt))
				continue
			}
			return nil, nil, herokuerr.New(herokuerr.CodeRequestFailed, lastErr.Error())
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			lastErr = readErr
			if attempt < attempts {
				time.Sleep(retryBackoffUnit * time.Duration(attempt))
				continue
			}
			return nil, nil, herokuerr.New(herokuerr.CodeRequestFailed, readErr.Error())
		}

		if isRetryableStatus(resp.StatusCode) && attempt < attempts {
			lastErr = nil
			time.Sleep(retryBackoffUnit * time.Duration(attempt))
			continue
		}

		return resp, raw, nil
	}

	if lastErr != nil {
		return nil, nil, herokuerr.New(herokuerr.CodeRequestFailed, lastErr.Error())
	}
	return nil, nil, herokuerr.New(herokuerr.CodeRequestFailed, "exhausted retries")
}

func newUpstreamRequest(ctx context.Context, method, reqURL string, body []byte, headers map[string]string) (*http.Request, error) {
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
