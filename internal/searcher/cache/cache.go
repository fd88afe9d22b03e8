// Package cache provides a Redis-backed query result cache with
// singleflight protection so a burst of identical cold queries computes
// the result only once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/searcher"
	"github.com/velsin/docsearch/pkg/config"
	pkgredis "github.com/velsin/docsearch/pkg/redis"
	"github.com/velsin/docsearch/pkg/tracing"
)

const keyPrefix = "docsearch:query:"

// QueryCache caches search responses in Redis, keyed by the analysed
// query terms so spelling-identical queries share entries regardless of
// casing or word order.
type QueryCache struct {
	client   *pkgredis.Client
	analyzer *analyzer.Analyzer
	cfg      config.RedisConfig
	group    singleflight.Group
	logger   *slog.Logger
	hits     atomic.Int64
	misses   atomic.Int64
}

// New creates a QueryCache over an established Redis client.
func New(client *pkgredis.Client, an *analyzer.Analyzer, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client:   client,
		analyzer: an,
		cfg:      cfg,
		logger:   slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached response for (query, limit), if present.
func (c *QueryCache) Get(ctx context.Context, query string, limit int) (*searcher.Response, bool) {
	key := c.buildKey(query, limit)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var resp searcher.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &resp, true
}

// Set stores a response under (query, limit) with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, query string, limit int, resp *searcher.Response) {
	key := c.buildKey(query, limit)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response or computes and stores it.
// The boolean reports whether the response came from the cache.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	limit int,
	computeFn func() (*searcher.Response, error),
) (*searcher.Response, bool, error) {
	_, span := tracing.StartChildSpan(ctx, "cache")
	defer span.End()

	if resp, ok := c.Get(ctx, query, limit); ok {
		span.SetAttr("hit", true)
		return resp, true, nil
	}

	key := c.buildKey(query, limit)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.flightLookup(ctx, query, limit, computeFn)
	})
	if err != nil {
		return nil, false, err
	}
	found := val.(lookup)
	span.SetAttr("hit", found.hit)
	return found.resp, found.hit, nil
}

// lookup carries a flight's outcome, keeping the hit flag attached to the
// response across the singleflight boundary.
type lookup struct {
	resp *searcher.Response
	hit  bool
}

// flightLookup runs inside the singleflight group. It re-checks the cache
// before computing, since another flight may have filled the entry after
// the caller's first lookup missed; that late find is still a hit and must
// be reported as one.
func (c *QueryCache) flightLookup(
	ctx context.Context,
	query string,
	limit int,
	computeFn func() (*searcher.Response, error),
) (lookup, error) {
	if resp, ok := c.Get(ctx, query, limit); ok {
		return lookup{resp: resp, hit: true}, nil
	}
	resp, err := computeFn()
	if err != nil {
		return lookup{}, err
	}
	c.Set(ctx, query, limit, resp)
	return lookup{resp: resp}, nil
}

// Invalidate removes every cached query response. Called after a reindex
// so stale rankings never outlive the index they came from.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("query cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the lifetime hit and miss counters.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey derives a stable cache key from the analysed query terms,
// sorted so term order never splits the cache.
func (c *QueryCache) buildKey(query string, limit int) string {
	terms := c.analyzer.UniqueTerms(query)
	sort.Strings(terms)
	raw := fmt.Sprintf("%s:limit=%d", strings.Join(terms, ","), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
