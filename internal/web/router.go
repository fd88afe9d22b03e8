package web

import (
	"net/http"

	"github.com/velsin/docsearch/internal/analytics"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/health"
	"github.com/velsin/docsearch/pkg/metrics"
	"github.com/velsin/docsearch/pkg/middleware"
)

// NewRouter builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	GET    /                          → search form
//	GET    /search                    → HTML search results
//	GET    /docs/{name}               → document preview
//	GET    /api/v1/search             → JSON search
//	GET    /api/v1/documents          → list indexed documents
//	GET    /api/v1/documents/{id}     → get one document
//	POST   /api/v1/reindex            → rebuild the index
//	GET    /api/v1/analytics          → aggregated query statistics
//	GET    /api/v1/cache/stats        → query cache counters
//	POST   /api/v1/cache/invalidate   → drop all cached queries
//	GET    /health/live               → liveness probe
//	GET    /health/ready              → readiness probe
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → RateLimit → Timeout → handler
func NewRouter(
	h *Handler,
	stats *analytics.Handler,
	checker *health.Checker,
	limiter *middleware.RateLimiter,
	m *metrics.Metrics,
	cfg config.ServerConfig,
) http.Handler {
	mux := http.NewServeMux()

	// Browser UI
	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /search", h.SearchPage)
	mux.HandleFunc("GET /docs/{name}", h.Document)

	// Search API
	mux.HandleFunc("GET /api/v1/search", h.APISearch)

	// Document API
	mux.HandleFunc("GET /api/v1/documents", h.ListDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)

	// Index API
	mux.HandleFunc("POST /api/v1/reindex", h.Reindex)

	// Analytics API
	mux.HandleFunc("GET /api/v1/analytics", stats.Stats)

	// Cache API
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	// Probes (never rate limited)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Middleware chain — applied inside-out:
	// request → RequestID → Metrics → RateLimit → Timeout → mux
	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.WriteTimeout)(chain)
	if limiter != nil {
		chain = middleware.RateLimit(limiter)(chain)
	}
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	return chain
}
