// Package web serves the browser UI and the JSON API over a single HTTP
// surface: a search form and HTML result pages, a document preview that
// renders Markdown and extracts PDF text, and the /api/v1 endpoints for
// search, document listing, reindexing, analytics, and cache control.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/velsin/docsearch/internal/analytics"
	"github.com/velsin/docsearch/internal/catalog"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer"
	"github.com/velsin/docsearch/internal/searcher"
	"github.com/velsin/docsearch/internal/searcher/cache"
	"github.com/velsin/docsearch/pkg/config"
	apperrors "github.com/velsin/docsearch/pkg/errors"
	"github.com/velsin/docsearch/pkg/logger"
	"github.com/velsin/docsearch/pkg/metrics"
	"github.com/velsin/docsearch/pkg/middleware"
	"github.com/velsin/docsearch/pkg/tracing"
)

// Handler holds the dependencies shared by all HTTP endpoints. The cache,
// collector, catalog, and metrics fields are nil when the corresponding
// backend is disabled; every handler degrades gracefully without them.
type Handler struct {
	store     *indexer.Store
	searcher  *searcher.Searcher
	scanner   *corpus.Scanner
	cache     *cache.QueryCache
	collector *analytics.Collector
	catalog   *catalog.Catalog
	metrics   *metrics.Metrics
	cfg       config.SearchConfig
	logger    *slog.Logger
}

// New creates the HTTP handler set.
func New(
	store *indexer.Store,
	search *searcher.Searcher,
	scanner *corpus.Scanner,
	queryCache *cache.QueryCache,
	collector *analytics.Collector,
	cat *catalog.Catalog,
	m *metrics.Metrics,
	cfg config.SearchConfig,
) *Handler {
	return &Handler{
		store:     store,
		searcher:  search,
		scanner:   scanner,
		cache:     queryCache,
		collector: collector,
		catalog:   cat,
		metrics:   m,
		cfg:       cfg,
		logger:    slog.Default().With("component", "web-handler"),
	}
}

type searchPageData struct {
	Query     string
	Searched  bool
	Terms     []string
	TotalHits int
	Results   []searcher.Result
	Documents int
	Err       string
}

type documentPageData struct {
	Name     string
	Size     int64
	Rendered template.HTML
	Text     string
}

type documentSummary struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Home renders the landing page with the search form.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	count := 0
	if ix := h.store.Snapshot(); ix != nil {
		count = ix.DocCount()
	} else if docs, err := h.scanner.Scan(); err == nil {
		count = len(docs)
	}
	h.renderPage(w, searchPage, searchPageData{Documents: count})
}

// SearchPage renders HTML search results for the browser form.
func (h *Handler) SearchPage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	limit, err := parseLimit(r, h.cfg.DefaultLimit)
	if err != nil {
		h.renderPage(w, searchPage, searchPageData{Query: query, Err: "limit must be a positive integer"})
		return
	}

	resp, cacheHit, err := h.runSearch(ctx, query, limit)
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		if h.metrics != nil {
			h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		}
		h.renderPage(w, searchPage, searchPageData{Query: query, Err: "Search failed, please try again."})
		return
	}
	h.observeSearch(ctx, resp, cacheHit, time.Since(start))

	h.renderPage(w, searchPage, searchPageData{
		Query:     query,
		Searched:  true,
		Terms:     resp.Terms,
		TotalHits: resp.TotalHits,
		Results:   resp.Results,
	})
}

// Document renders a single corpus document. Markdown sources are converted
// to HTML, PDFs are shown as their extracted text, and everything else is
// served as preformatted plain text.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	name := r.PathValue("name")

	doc, err := h.scanner.Stat(name)
	if err != nil {
		h.htmlError(w, log, name, err)
		return
	}

	data := documentPageData{Name: doc.Name, Size: doc.Size}
	if strings.ToLower(filepath.Ext(name)) == ".md" {
		raw, err := h.scanner.ReadRaw(name)
		if err != nil {
			h.htmlError(w, log, name, err)
			return
		}
		rendered, err := renderMarkdown(raw)
		if err != nil {
			h.htmlError(w, log, name, err)
			return
		}
		data.Rendered = rendered
	} else {
		text, err := h.scanner.Load(name)
		if err != nil {
			h.htmlError(w, log, name, err)
			return
		}
		data.Text = text
	}
	h.renderPage(w, documentPage, data)
}

// APISearch serves GET /api/v1/search. An empty or out-of-vocabulary query
// is a valid request that returns an empty result list, not an error.
func (h *Handler) APISearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	limit, err := parseLimit(r, h.cfg.DefaultLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp, cacheHit, err := h.runSearch(ctx, query, limit)
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		if h.metrics != nil {
			h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		}
		h.writeError(w, err)
		return
	}

	latency := time.Since(start)
	h.observeSearch(ctx, resp, cacheHit, latency)
	log.Info("search completed",
		"query", query,
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// ListDocuments serves GET /api/v1/documents. When the Postgres catalog is
// enabled the listing includes indexing metadata; otherwise it comes from
// the in-memory index tables.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	limit, err := parsePositiveInt(r, "limit", 100)
	if err != nil {
		h.writeError(w, err)
		return
	}

	offset, err := parsePositiveInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if h.catalog != nil {
		records, err := h.catalog.List(ctx, limit, offset)
		if err != nil {
			log.Error("catalog list failed", "error", err)
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"count":     len(records),
			"documents": records,
		})
		return
	}

	ix, err := h.store.Ensure(ctx)
	if err != nil {
		log.Error("index unavailable", "error", err)
		h.writeError(w, err)
		return
	}
	docs := ix.Documents
	if offset > len(docs) {
		offset = len(docs)
	}
	page := docs[offset:]
	if len(page) > limit {
		page = page[:limit]
	}
	out := make([]documentSummary, 0, len(page))
	for i, d := range page {
		out = append(out, documentSummary{ID: offset + i, Name: d.Name, SizeBytes: d.Size})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(out),
		"documents": out,
	})
}

// GetDocument serves GET /api/v1/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		h.writeError(w, fmt.Errorf("%w: document id must be a non-negative integer", apperrors.ErrInvalidInput))
		return
	}

	if h.catalog != nil {
		record, err := h.catalog.Get(ctx, id)
		if err != nil {
			if apperrors.HTTPStatusCode(err) == http.StatusInternalServerError {
				log.Error("catalog get failed", "id", id, "error", err)
			}
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, record)
		return
	}

	ix, err := h.store.Ensure(ctx)
	if err != nil {
		log.Error("index unavailable", "error", err)
		h.writeError(w, err)
		return
	}
	doc, ok := ix.Document(uint32(id))
	if !ok {
		h.writeError(w, fmt.Errorf("%w: document %d", apperrors.ErrDocumentNotFound, id))
		return
	}
	h.writeJSON(w, http.StatusOK, documentSummary{ID: id, Name: doc.Name, SizeBytes: doc.Size})
}

// Reindex serves POST /api/v1/reindex. Without force=true the rebuild is
// skipped when the corpus fingerprint still matches the current index.
// Cache invalidation and catalog refresh ride the store's build callback,
// so they also cover builds triggered lazily by a first search.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: force must be a boolean", apperrors.ErrInvalidInput))
			return
		}
		force = parsed
	}

	ctx, span := tracing.StartSpan(ctx, "reindex", middleware.GetRequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()

	result, err := h.store.Rebuild(ctx, force)
	if err != nil {
		log.Error("reindex failed", "error", err)
		h.writeError(w, err)
		return
	}
	log.Info("reindex completed",
		"status", result.Status,
		"documents", result.Documents,
		"vocabulary", result.Vocabulary,
		"duration_ms", result.DurationMS,
	)
	h.writeJSON(w, http.StatusOK, result)
}

// CacheStats serves GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate serves POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// runSearch executes one query through the cache when it is enabled. The
// whole pipeline runs under a span tree rooted here, keyed by request ID.
func (h *Handler) runSearch(ctx context.Context, query string, limit int) (*searcher.Response, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "search", middleware.GetRequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()

	if h.cache != nil {
		return h.cache.GetOrCompute(ctx, query, limit, func() (*searcher.Response, error) {
			return h.searcher.Search(ctx, query, limit)
		})
	}
	resp, err := h.searcher.Search(ctx, query, limit)
	return resp, false, err
}

// observeSearch records metrics and emits the analytics event for one
// completed query. Shared by the HTML and JSON search paths.
func (h *Handler) observeSearch(ctx context.Context, resp *searcher.Response, cacheHit bool, latency time.Duration) {
	if h.metrics != nil {
		resultType := "hit"
		switch {
		case len(resp.Terms) == 0:
			resultType = "empty_query"
		case resp.TotalHits == 0:
			resultType = "zero_result"
		}
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()

		cacheStatus := "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
		if h.cache != nil {
			if cacheHit {
				h.metrics.CacheHitsTotal.Inc()
			} else {
				h.metrics.CacheMissesTotal.Inc()
			}
		}
	}

	if h.collector != nil {
		eventType := analytics.EventSearch
		if h.cache != nil {
			if cacheHit {
				eventType = analytics.EventCacheHit
			} else {
				eventType = analytics.EventCacheMiss
			}
		}
		h.collector.Track(analytics.SearchEvent{
			Type:      eventType,
			Query:     resp.Query,
			Terms:     resp.Terms,
			TotalHits: resp.TotalHits,
			Returned:  len(resp.Results),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Timestamp: time.Now().UTC(),
			RequestID: middleware.GetRequestID(ctx),
		})
	}
}

// renderPage executes a page template into a buffer first, so a render
// failure can still produce a clean 500 instead of a half-written page.
func (h *Handler) renderPage(w http.ResponseWriter, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		h.logger.Error("template render failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (h *Handler) htmlError(w http.ResponseWriter, log *slog.Logger, name string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status == http.StatusInternalServerError {
		log.Error("document preview failed", "name", name, "error", err)
	} else {
		log.Debug("document preview rejected", "name", name, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps an error to its HTTP status. Internal errors are masked
// so stack details never reach the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}

// parseLimit reads the limit query parameter, falling back when absent.
func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", apperrors.ErrInvalidInput)
	}
	return parsed, nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", apperrors.ErrInvalidInput, key)
	}
	return parsed, nil
}
