package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	sensitiveHeaderPattern = regexp.MustCompile(`(?i)^(authorization|cookie|set-cookie|x-api-key)$`)
	sensitiveBodyKeyPattern = regexp.MustCompile(`(?i)(token|authorization|password|secret)`)
)

// cleanHeaders drops headers matching the sensitive-header pattern and
// returns the extracted request-id, if any.
func cleanHeaders(raw map[string][]string) (headers map[string]string, requestID string) {
	headers = make(map[string]string, len(raw))
	for name, values := range raw {
		if len(values) == 0 {
			continue
		}
		if sensitiveHeaderPattern.MatchString(name) {
			continue
		}
		headers[name] = values[0]
		if equalFoldASCII(name, "request-id") {
			requestID = values[0]
		}
	}
	return headers, requestID
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// redactBody walks every key in every nested object/array and replaces the
// value of any key matching the sensitive-body-key pattern with
// "[REDACTED]".
func redactBody(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveBodyKeyPattern.MatchString(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = redactBody(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = redactBody(inner)
		}
		return out
	default:
		return v
	}
}

// truncateBody serializes body; if it exceeds maxBytes, it is replaced with
// a truncation envelope and a warning describing the clamp.
func truncateBody(body any, maxBytes, previewChars int) (out any, warning string) {
	raw, err := json.Marshal(body)
	if err != nil {
		return body, ""
	}
	if len(raw) <= maxBytes {
		return body, ""
	}

	preview := string(raw)
	partial := false
	if len(preview) > previewChars {
		preview = preview[:previewChars]
		partial = true
	}

	envelope := map[string]any{
		"truncated":          true,
		"original_size_bytes": len(raw),
		"preview":            preview,
		"preview_is_partial":  partial,
	}
	return envelope, fmt.Sprintf("response_body_truncated: original size %d bytes, showing %d chars", len(raw), len(preview))
}

// bodyPreview serializes body and clamps it to maxChars, used for non-2xx
// error message previews.
func bodyPreview(body any, maxChars int) string {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf("%v", body)
	}
	s := string(raw)
	if len(s) > maxChars {
		s = s[:maxChars]
	}
	return s
}
