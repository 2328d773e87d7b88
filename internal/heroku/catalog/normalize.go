// Package catalog turns the upstream hypermedia JSON Schema into a canonical
// operation catalog (normalizer, C4) and owns the in-memory, periodically
// refreshed copy of that catalog plus its on-disk cache (schema service,
// C5).
package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
)

// Catalog is the output of normalization: the deduplicated operation list
// plus the verbatim root schema (needed later for JSON Schema $ref
// resolution against its definitions).
type Catalog struct {
	Operations []operation.Operation
	RootSchema map[string]any
}

var placeholderPattern = regexp.MustCompile(`\{[^{}]+\}`)

// Normalize transforms a decoded root schema document into a canonical,
// deduplicated operation catalog. It is a pure function: the same input
// always produces the same output (definitions are visited in sorted
// key order, independent of map iteration order).
func Normalize(root map[string]any) (*Catalog, error) {
	defsRaw, _ := root["definitions"].(map[string]any)

	defNames := make([]string, 0, len(defsRaw))
	for name := range defsRaw {
		defNames = append(defNames, name)
	}
	sort.Strings(defNames)

	order := make([]string, 0)
	byID := make(map[string]*operation.Operation)

	for _, defName := range defNames {
		defMap, ok := defsRaw[defName].(map[string]any)
		if !ok {
			continue
		}
		linksRaw, _ := defMap["links"].([]any)

		for _, linkRaw := range linksRaw {
			linkMap, ok := linkRaw.(map[string]any)
			if !ok {
				continue
			}

			href, _ := linkMap["href"].(string)
			if href == "" {
				continue
			}

			template, pathParams, err := parsePathTemplate(href)
			if err != nil {
				return nil, fmt.Errorf("catalog: normalize %q: %w", href, err)
			}

			method := coerceMethod(linkMap["method"])
			opID := method + " " + template

			rel, _ := linkMap["rel"].(string)
			title, _ := linkMap["title"].(string)
			description, _ := linkMap["description"].(string)

			var schema any
			if s, ok := linkMap["schema"]; ok {
				schema = s
			}

			required := requiredParamsFor(pathParams, schema)
			searchText := strings.ToLower(strings.TrimSpace(strings.Join([]string{title, description, rel}, " ")))

			if existing, ok := byID[opID]; ok {
				mergeInto(existing, description, required, searchText)
				continue
			}

			op := &operation.Operation{
				OperationID:    opID,
				Method:         method,
				PathTemplate:   template,
				PathParams:     pathParams,
				RequiredParams: required,
				RequestSchema:  schema,
				IsMutating:     method != "GET" && method != "HEAD",
				DefinitionName: defName,
				Title:          title,
				Description:    description,
				Rel:            rel,
				SearchText:     searchText,
			}
			byID[opID] = op
			order = append(order, opID)
		}
	}

	ops := make([]operation.Operation, 0, len(order))
	for _, id := range order {
		ops = append(ops, *byID[id])
	}

	return &Catalog{Operations: ops, RootSchema: root}, nil
}

func mergeInto(existing *operation.Operation, description string, required []string, searchText string) {
	description = strings.TrimSpace(description)
	if description != "" {
		if existing.Description == "" {
			existing.Description = description
		} else {
			existing.Description = strings.TrimSpace(existing.Description + " " + description)
		}
	}

	for _, r := range required {
		if !containsString(existing.RequiredParams, r) {
			existing.RequiredParams = append(existing.RequiredParams, r)
		}
	}

	if searchText != "" {
		existing.SearchText = strings.TrimSpace(existing.SearchText + " " + searchText)
	}
}

func requiredParamsFor(pathParams []operation.PathParam, schema any) []string {
	required := make([]string, 0, len(pathParams))
	for _, p := range pathParams {
		required = append(required, p.Name)
	}

	if m, ok := schema.(map[string]any); ok {
		if arr, ok := m["required"].([]any); ok {
			for _, r := range arr {
				if s, ok := r.(string); ok {
					required = append(required, "body."+s)
				}
			}
		}
	}

	return required
}

func coerceMethod(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "GET"
	}
	return strings.ToUpper(s)
}

// parsePathTemplate rewrites every placeholder in href to a sanitized
// `{name}` form and returns the rendered template alongside the ordered
// path parameter list.
func parsePathTemplate(href string) (string, []operation.PathParam, error) {
	matches := placeholderPattern.FindAllStringIndex(href, -1)
	if matches == nil {
		return href, nil, nil
	}

	var b strings.Builder
	params := make([]operation.PathParam, 0, len(matches))
	used := make(map[string]bool, len(matches))

	cursor := 0
	for i, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(href[cursor:start])

		inner := href[start+1 : end-1]
		name, err := resolvePlaceholderName(inner, i)
		if err != nil {
			return "", nil, err
		}

		if used[name] {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		used[name] = true

		params = append(params, operation.PathParam{Name: name, SourceRef: inner})
		b.WriteString("{")
		b.WriteString(name)
		b.WriteString("}")

		cursor = end
	}
	b.WriteString(href[cursor:])

	return b.String(), params, nil
}

func resolvePlaceholderName(inner string, idx int) (string, error) {
	if len(inner) >= 2 && inner[0] == '(' && inner[len(inner)-1] == ')' {
		encoded := inner[1 : len(inner)-1]
		pointer, err := url.QueryUnescape(encoded)
		if err != nil {
			return "", fmt.Errorf("decode pointer %q: %w", encoded, err)
		}
		return resolvePointerName(pointer, idx), nil
	}
	return sanitize(inner, idx), nil
}

func resolvePointerName(pointer string, idx int) string {
	trimmed := strings.TrimPrefix(pointer, "#")
	var segs []string
	for _, p := range strings.Split(trimmed, "/") {
		if p != "" {
			segs = append(segs, p)
		}
	}

	var collected []string
	for i := 0; i < len(segs)-1; i++ {
		if segs[i] == "definitions" {
			collected = append(collected, segs[i+1])
		}
	}

	switch {
	case len(collected) >= 2:
		return sanitize(collected[0]+"_"+collected[len(collected)-1], idx)
	case len(collected) == 1:
		return sanitize(collected[0], idx)
	default:
		if len(segs) == 0 {
			return sanitize("", idx)
		}
		return sanitize(segs[len(segs)-1], idx)
	}
}

// sanitize implements the normalizer's name-cleaning rule: lowercase,
// collapse non-[a-z0-9] runs to a single underscore, trim leading/trailing
// underscores, fall back to param_<idx> when empty, and prefix p_ when the
// result starts with a digit.
func sanitize(s string, idx int) string {
	lower := strings.ToLower(s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
		} else if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return fmt.Sprintf("param_%d", idx)
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "p_" + out
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
