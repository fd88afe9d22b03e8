// Package searcher executes free-text queries against the index store.
// Queries are normalised with the same analyzer used at index time, so
// a query term and an indexed term can only meet in one form.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/indexer"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/tracing"
)

// Result is one ranked document.
type Result struct {
	DocID uint32  `json:"doc_id"`
	Name  string  `json:"name"`
	Size  int64   `json:"size"`
	Score float64 `json:"score"`
}

// Response is the outcome of a single search.
type Response struct {
	Query     string   `json:"query"`
	Terms     []string `json:"terms"`
	TotalHits int      `json:"total_hits"`
	Results   []Result `json:"results"`
}

// Searcher scores documents against queries.
type Searcher struct {
	store    *indexer.Store
	analyzer *analyzer.Analyzer
	cfg      config.SearchConfig
	logger   *slog.Logger
}

// New creates a Searcher over the given index store.
func New(store *indexer.Store, an *analyzer.Analyzer, cfg config.SearchConfig) *Searcher {
	return &Searcher{
		store:    store,
		analyzer: an,
		cfg:      cfg,
		logger:   slog.Default().With("component", "searcher"),
	}
}

// Search scores every document containing at least one query term and
// returns the top results ordered by descending score, ties broken by
// ascending document ID (sorted filename order). A document's score is
// the sum of its matrix weights over the distinct query terms; repeated
// query terms count once. The index is built lazily on the first call.
// An empty query, or one whose terms are all outside the vocabulary,
// yields an empty result list rather than an error.
func (s *Searcher) Search(ctx context.Context, query string, limit int) (*Response, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxResults {
		limit = s.cfg.MaxResults
	}

	ix, err := s.store.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensuring index: %w", err)
	}

	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	terms := s.analyzer.UniqueTerms(query)
	parseSpan.SetAttr("terms", len(terms))
	parseSpan.End()

	resp := &Response{
		Query:   query,
		Terms:   terms,
		Results: []Result{},
	}
	if len(terms) == 0 {
		return resp, nil
	}

	_, scoreSpan := tracing.StartChildSpan(ctx, "score")
	scores := make(map[uint32]float64)
	for _, term := range terms {
		termID, ok := ix.TermID(term)
		if !ok {
			continue
		}
		for _, p := range ix.Postings(termID) {
			scores[p.DocID] += p.Weight
		}
	}

	results := make([]Result, 0, len(scores))
	for docID, score := range scores {
		if score <= 0 {
			continue
		}
		doc, ok := ix.Document(docID)
		if !ok {
			continue
		}
		results = append(results, Result{
			DocID: docID,
			Name:  doc.Name,
			Size:  doc.Size,
			Score: score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	resp.TotalHits = len(results)
	if len(results) > limit {
		results = results[:limit]
	}
	resp.Results = results
	scoreSpan.SetAttr("total_hits", resp.TotalHits)
	scoreSpan.End()

	s.logger.Debug("query executed",
		"query", query,
		"terms", len(terms),
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
	)
	return resp, nil
}
