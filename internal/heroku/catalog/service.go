package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dsouzaAnush/heroku-code-mcp/internal/applog"
	"github.com/dsouzaAnush/heroku-code-mcp/internal/heroku/operation"
)

const (
	cacheVersion  = 1
	docsMaxChars  = 30000
	cacheFileMode = 0o600
)

// cacheFile is the on-disk shape of the catalog cache.
type cacheFile struct {
	Version          int                   `json:"version"`
	CachedAt         string                `json:"cached_at"`
	SchemaETag       string                `json:"schema_etag,omitempty"`
	DocsETag         string                `json:"docs_etag,omitempty"`
	DocsLastModified string                `json:"docs_last_modified,omitempty"`
	Operations       []operation.Operation `json:"operations"`
	RootSchema       map[string]any        `json:"root_schema"`
	DocsContext      string                `json:"docs_context,omitempty"`
}

// Service owns the authoritative catalog in memory: cold boot from a cache
// file, refresh on demand and on a timer, single-flight refresh coalescing,
// and cache persistence after meaningful change.
type Service struct {
	schemaURL    string
	docsURL      string
	acceptHeader string
	cachePath    string

	httpClient *http.Client
	log        *applog.Logger

	mu               sync.RWMutex
	operations       []operation.Operation
	byID             map[string]*operation.Operation
	rootSchema       map[string]any
	docsContext      string
	schemaETag       string
	docsETag         string
	docsLastModified string

	refreshMu   sync.Mutex
	inflight    chan struct{}
	inflightErr error
}

// New builds a schema service against the given upstream endpoints and
// local cache path. httpClient may be nil, in which case http.DefaultClient
// is used.
func New(schemaURL, docsURL, acceptHeader, cachePath string, httpClient *http.Client, log *applog.Logger) *Service {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		schemaURL:    schemaURL,
		docsURL:      docsURL,
		acceptHeader: acceptHeader,
		cachePath:    cachePath,
		httpClient:   httpClient,
		log:          log,
		byID:         make(map[string]*operation.Operation),
	}
}

// ColdBoot attempts to populate the in-memory catalog from the local cache
// file. A missing file is not an error; a corrupt or mis-versioned payload
// is discarded with a warning.
func (s *Service) ColdBoot() {
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("cold_boot", "failed reading cache %s: %v", s.cachePath, err)
		}
		return
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		s.log.Warnf("cold_boot", "corrupt cache file, discarding: %v", err)
		return
	}

	if cf.Version != cacheVersion || cf.RootSchema == nil || cf.Operations == nil {
		s.log.Warnf("cold_boot", "cache version mismatch or missing fields, discarding")
		return
	}

	s.mu.Lock()
	s.operations = cf.Operations
	s.byID = indexByID(cf.Operations)
	s.rootSchema = cf.RootSchema
	s.docsContext = cf.DocsContext
	s.schemaETag = cf.SchemaETag
	s.docsETag = cf.DocsETag
	s.docsLastModified = cf.DocsLastModified
	s.mu.Unlock()
}

// EnsureReady forces a blocking refresh if the catalog is still empty after
// cold boot.
func (s *Service) EnsureReady(ctx context.Context) error {
	s.mu.RLock()
	empty := len(s.operations) == 0
	s.mu.RUnlock()

	if !empty {
		return nil
	}
	return s.Refresh(ctx, true)
}

// Refresh re-fetches the schema (and docs context) from upstream. Concurrent
// callers join the in-flight refresh instead of starting a new one.
func (s *Service) Refresh(ctx context.Context, force bool) error {
	s.refreshMu.Lock()
	if s.inflight != nil {
		ch := s.inflight
		s.refreshMu.Unlock()
		<-ch
		s.refreshMu.Lock()
		err := s.inflightErr
		s.refreshMu.Unlock()
		return err
	}

	done := make(chan struct{})
	s.inflight = done
	s.refreshMu.Unlock()

	err := s.doRefresh(ctx, force)

	s.refreshMu.Lock()
	s.inflightErr = err
	s.inflight = nil
	close(done)
	s.refreshMu.Unlock()

	return err
}

// StartBackgroundRefresh runs non-forced refreshes on interval until ctx is
// canceled. Refresh errors are logged, never surfaced to the caller.
func (s *Service) StartBackgroundRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx, false); err != nil {
				s.log.Warnf("background_refresh", "refresh failed: %v", err)
			}
		}
	}
}

func (s *Service) doRefresh(ctx context.Context, force bool) error {
	schemaChanged, err := s.refreshSchema(ctx, force)
	if err != nil {
		return err
	}

	docsChanged := s.refreshDocs(ctx)

	if schemaChanged || docsChanged {
		if err := s.persistCache(); err != nil {
			s.log.Warnf("persist_cache", "failed to persist catalog cache: %v", err)
		}
	}
	return nil
}

func (s *Service) refreshSchema(ctx context.Context, force bool) (bool, error) {
	s.mu.RLock()
	etag := s.schemaETag
	hasCatalog := len(s.operations) > 0
	s.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.schemaURL, nil)
	if err != nil {
		return false, fmt.Errorf("catalog: build schema request: %w", err)
	}
	req.Header.Set("Accept", s.acceptHeader)
	if !force && etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("catalog: fetch schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if hasCatalog {
			return false, nil
		}
		s.log.Warnf("schema_refresh", "304 received with empty catalog, forcing refresh")
		return s.refreshSchema(ctx, true)
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("catalog: schema fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("catalog: read schema body: %w", err)
	}

	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return false, fmt.Errorf("catalog: parse schema JSON: %w", err)
	}

	cat, err := Normalize(root)
	if err != nil {
		return false, fmt.Errorf("catalog: normalize schema: %w", err)
	}

	s.mu.Lock()
	s.operations = cat.Operations
	s.byID = indexByID(cat.Operations)
	s.rootSchema = cat.RootSchema
	if newETag := resp.Header.Get("ETag"); newETag != "" {
		s.schemaETag = newETag
	}
	s.mu.Unlock()

	return true, nil
}

func (s *Service) refreshDocs(ctx context.Context) bool {
	if s.docsURL == "" {
		return false
	}

	s.mu.RLock()
	etag := s.docsETag
	lastMod := s.docsLastModified
	s.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.docsURL, nil)
	if err != nil {
		s.log.Warnf("docs_refresh", "build request failed: %v", err)
		return false
	}
	req.Header.Set("Accept", "text/html")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	} else if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warnf("docs_refresh", "fetch failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Warnf("docs_refresh", "non-OK status %d, keeping stale context", resp.StatusCode)
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.Warnf("docs_refresh", "read body failed: %v", err)
		return false
	}

	text := stripHTML(string(body))
	if len(text) > docsMaxChars {
		text = text[:docsMaxChars]
	}

	s.mu.Lock()
	changed := text != s.docsContext
	if changed {
		s.docsContext = text
	}
	if newETag := resp.Header.Get("ETag"); newETag != "" {
		s.docsETag = newETag
	}
	if newLastMod := resp.Header.Get("Last-Modified"); newLastMod != "" {
		s.docsLastModified = newLastMod
	}
	s.mu.Unlock()

	return changed
}

func (s *Service) persistCache() error {
	s.mu.RLock()
	cf := cacheFile{
		Version:          cacheVersion,
		CachedAt:         time.Now().UTC().Format(time.RFC3339),
		SchemaETag:       s.schemaETag,
		DocsETag:         s.docsETag,
		DocsLastModified: s.docsLastModified,
		Operations:       s.operations,
		RootSchema:       s.rootSchema,
		DocsContext:      s.docsContext,
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o700); err != nil {
		return fmt.Errorf("catalog: mkdir for cache: %w", err)
	}
	if err := os.WriteFile(s.cachePath, data, cacheFileMode); err != nil {
		return fmt.Errorf("catalog: write cache: %w", err)
	}
	return nil
}

// Lookup returns the operation with the given id, if published.
func (s *Service) Lookup(operationID string) (operation.Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.byID[operationID]
	if !ok {
		return operation.Operation{}, false
	}
	return *op, true
}

// Operations returns a snapshot of the published catalog.
func (s *Service) Operations() []operation.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]operation.Operation, len(s.operations))
	copy(out, s.operations)
	return out
}

// RootSchema returns the verbatim root schema, or nil if never populated.
func (s *Service) RootSchema() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootSchema
}

// DocsContext returns the current docs side-channel blob.
func (s *Service) DocsContext() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docsContext
}

func indexByID(ops []operation.Operation) map[string]*operation.Operation {
	byID := make(map[string]*operation.Operation, len(ops))
	for i := range ops {
		byID[ops[i].OperationID] = &ops[i]
	}
	return byID
}

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern         = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// stripHTML removes script/style blocks and all remaining tags, then
// collapses whitespace, matching the docs-context sanitization rule.
func stripHTML(s string) string {
	s = scriptStylePattern.ReplaceAllString(s, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
