// Package indexer builds and owns the search index. The Builder turns a
// corpus scan into a weighted document-term matrix; the Store persists
// snapshots, loads them back, and serves them to searches.
package indexer

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer/index"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/tracing"
)

// Builder computes tf-idf indexes over a corpus folder.
type Builder struct {
	scanner  *corpus.Scanner
	analyzer *analyzer.Analyzer
	cfg      config.IndexConfig
	logger   *slog.Logger
}

// NewBuilder creates a Builder over the given corpus and analyzer.
func NewBuilder(scanner *corpus.Scanner, an *analyzer.Analyzer, cfg config.IndexConfig) *Builder {
	return &Builder{
		scanner:  scanner,
		analyzer: an,
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer"),
	}
}

// Build scans the corpus and computes the full document-term weight
// matrix. Term weights are raw term frequency scaled by smoothed inverse
// document frequency, idf(t) = ln((1+N)/(1+df(t))) + 1, and every
// document vector is L2-normalised. Documents that cannot be read are
// skipped, as are documents left with no terms after analysis; terms
// appearing in fewer than MinDocFreq documents are dropped from the
// vocabulary. The result is deterministic: document IDs
// follow sorted filename order and term IDs follow sorted term order.
func (b *Builder) Build(ctx context.Context) (*index.Index, error) {
	ctx, span := tracing.StartChildSpan(ctx, "index-build")
	defer span.End()

	scanned, err := b.scanner.Scan()
	if err != nil {
		return nil, err
	}
	fingerprint := corpus.Fingerprint(scanned)

	type docTerms struct {
		info   index.DocumentInfo
		counts map[string]int
	}
	loaded := make([]docTerms, 0, len(scanned))
	for _, doc := range scanned {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := b.scanner.Load(doc.Name)
		if err != nil {
			b.logger.Warn("skipping unreadable document", "name", doc.Name, "error", err)
			continue
		}
		counts := b.analyzer.TermCounts(text)
		if len(counts) == 0 {
			b.logger.Warn("skipping document with no indexable terms", "name", doc.Name)
			continue
		}
		loaded = append(loaded, docTerms{
			info:   index.DocumentInfo{Name: doc.Name, Size: doc.Size},
			counts: counts,
		})
	}

	// Document frequencies over the successfully loaded set.
	df := make(map[string]uint32)
	for _, d := range loaded {
		for term := range d.counts {
			df[term]++
		}
	}

	// Vocabulary pruning and deterministic term IDs.
	vocab := make([]string, 0, len(df))
	for term, n := range df {
		if int(n) >= b.cfg.MinDocFreq {
			vocab = append(vocab, term)
		}
	}
	sort.Strings(vocab)
	terms := make([]index.TermInfo, len(vocab))
	termIDs := make(map[string]uint32, len(vocab))
	for i, term := range vocab {
		terms[i] = index.TermInfo{Term: term, ID: uint32(i), DocFreq: df[term]}
		termIDs[term] = uint32(i)
	}

	n := len(loaded)
	idf := make([]float64, len(vocab))
	for i, term := range vocab {
		idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	documents := make([]index.DocumentInfo, 0, n)
	entries := make([]index.Entry, 0)
	for docID, d := range loaded {
		documents = append(documents, d.info)

		docEntries := make([]index.Entry, 0, len(d.counts))
		for term, count := range d.counts {
			tid, ok := termIDs[term]
			if !ok {
				continue
			}
			docEntries = append(docEntries, index.Entry{
				DocID:  uint32(docID),
				TermID: tid,
				Weight: float64(count) * idf[tid],
			})
		}
		// Sort before accumulating the norm: float addition order must not
		// depend on map iteration, or rebuilds stop being byte-identical.
		sort.Slice(docEntries, func(i, j int) bool {
			return docEntries[i].TermID < docEntries[j].TermID
		})
		var norm float64
		for _, e := range docEntries {
			norm += e.Weight * e.Weight
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for i := range docEntries {
				docEntries[i].Weight /= norm
			}
		}
		entries = append(entries, docEntries...)
	}

	span.SetAttr("documents", len(documents))
	span.SetAttr("vocabulary", len(terms))
	b.logger.Info("index built",
		"documents", len(documents),
		"vocabulary", len(terms),
		"entries", len(entries),
	)
	return index.New(documents, terms, entries, fingerprint), nil
}
