// Package searchindex ranks catalog operations against a free-text query
// using a lightweight inverted TF·IDF scorer with substring/path/method/docs
// boosts.
package searchindex

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
)

const (
	defaultLimit = 8
	maxLimit     = 25
)

// Result is one ranked search hit.
type Result struct {
	OperationID    string   `json:"operation_id"`
	Method         string   `json:"method"`
	Path           string   `json:"path"`
	Summary        string   `json:"summary"`
	RequiredParams []string `json:"required_params"`
	IsMutating     bool     `json:"is_mutating"`
	Score          float64  `json:"score"`
}

type docEntry struct {
	op    operation.Operation
	tf    map[string]int
	maxTF int
}

// Index is an immutable, fully built TF·IDF index over one catalog
// snapshot. Build a new Index after every catalog publication; the old one
// remains safely readable until replaced.
type Index struct {
	docs       []docEntry
	idf        map[string]float64
	docsTokens map[string]struct{}
}

var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9_]+`)

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	parts := tokenSplitPattern.Split(lower, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 1 {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Build recomputes the index from scratch for the given operation list and
// docs-context side channel.
func Build(ops []operation.Operation, docsContext string) *Index {
	docs := make([]docEntry, 0, len(ops))
	df := make(map[string]int)

	for _, op := range ops {
		blob := strings.Join([]string{
			op.OperationID, op.Title, op.Description, op.SearchText,
			op.PathTemplate, op.Method, op.DefinitionName,
		}, " ")

		tf := make(map[string]int)
		maxTF := 1
		for _, t := range tokenize(blob) {
			tf[t]++
			if tf[t] > maxTF {
				maxTF = tf[t]
			}
		}
		for t := range tf {
			df[t]++
		}

		docs = append(docs, docEntry{op: op, tf: tf, maxTF: maxTF})
	}

	n := len(docs)
	if n == 0 {
		n = 1
	}
	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log(float64(1+n)/float64(1+d)) + 1
	}

	docsTokens := make(map[string]struct{})
	for _, t := range tokenize(docsContext) {
		docsTokens[t] = struct{}{}
	}

	return &Index{docs: docs, idf: idf, docsTokens: docsTokens}
}

// Search ranks the published operations against query, optionally narrowed
// by resourceFilter, returning at most clamp(limit,1,25) results (default 8)
// sorted by score descending with ties preserving catalog order.
func (idx *Index) Search(query string, limit int, resourceFilter []string) []Result {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return []Result{}
	}

	lowerQuery := strings.ToLower(trimmed)
	queryTokens := tokenize(lowerQuery)

	docsBoost := 0.0
	if len(idx.docsTokens) > 0 {
		for _, t := range queryTokens {
			if _, ok := idx.docsTokens[t]; ok {
				docsBoost = 0.25
				break
			}
		}
	}

	lowerFilters := make([]string, len(resourceFilter))
	for i, f := range resourceFilter {
		lowerFilters[i] = strings.ToLower(f)
	}

	type scored struct {
		result Result
		score  float64
		idx    int
	}
	var candidates []scored

	for i, d := range idx.docs {
		op := d.op
		if len(lowerFilters) > 0 {
			haystack := strings.ToLower(op.DefinitionName + op.PathTemplate + op.OperationID)
			if !anySubstring(haystack, lowerFilters) {
				continue
			}
		}

		base := 0.0
		for _, t := range queryTokens {
			tf, ok := d.tf[t]
			if !ok {
				continue
			}
			base += (float64(tf) / float64(d.maxTF)) * idx.idf[t]
		}

		score := base

		fullHaystack := strings.ToLower(op.OperationID + " " + op.PathTemplate + " " + op.Title + " " + op.Description + " " + op.Rel)
		if strings.Contains(fullHaystack, lowerQuery) {
			score += 6
		}
		if strings.Contains(strings.ToLower(op.PathTemplate), lowerQuery) {
			score += 3
		}
		if strings.Contains(strings.ToLower(op.Title), lowerQuery) {
			score += 2
		}
		lowerMethod := strings.ToLower(op.Method)
		for _, t := range queryTokens {
			if t == lowerMethod {
				score += 1
				break
			}
		}
		score += docsBoost

		if score <= 0 {
			continue
		}

		candidates = append(candidates, scored{
			result: Result{
				OperationID:    op.OperationID,
				Method:         op.Method,
				Path:           op.PathTemplate,
				Summary:        summaryFor(op),
				RequiredParams: op.RequiredParams,
				IsMutating:     op.IsMutating,
				Score:          roundScore(score),
			},
			score: score,
			idx:   i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].idx < candidates[j].idx
	})

	n := limit
	if n <= 0 {
		n = defaultLimit
	}
	if n > maxLimit {
		n = maxLimit
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	out := make([]Result, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].result
	}
	return out
}

func summaryFor(op operation.Operation) string {
	if op.Description != "" {
		return op.Description
	}
	if op.Title != "" {
		return op.Title
	}
	return op.Method + " " + op.PathTemplate
}

func anySubstring(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func roundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}
