package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer"
	"github.com/velsin/docsearch/internal/searcher"
	"github.com/velsin/docsearch/pkg/config"
)

// newBenchSearcher builds an index over a generated corpus and returns a
// searcher ready to serve queries against it.
func newBenchSearcher(b *testing.B, docs int) *searcher.Searcher {
	b.Helper()
	dir := b.TempDir()
	writeBenchCorpus(b, dir, docs, 200)

	scanner := corpus.NewScanner(config.CorpusConfig{
		Dir:        dir,
		Extensions: []string{".txt"},
	})
	an := analyzer.New(config.AnalyzerConfig{MinTokenLength: 2, StopWords: true})
	idxCfg := config.IndexConfig{DataDir: b.TempDir(), MinDocFreq: 1}
	builder := indexer.NewBuilder(scanner, an, idxCfg)
	store := indexer.NewStore(builder, scanner, idxCfg)
	if _, err := store.Ensure(context.Background()); err != nil {
		b.Fatalf("building index: %v", err)
	}

	return searcher.New(store, an, config.SearchConfig{DefaultLimit: 10, MaxResults: 100})
}

func BenchmarkSearch(b *testing.B) {
	queries := map[string]string{
		"single_term": "ranking",
		"multi_term":  "search index ranking corpus",
		"no_match":    "zyzzyva qwertyuiop",
	}
	for _, docs := range []int{100, 500} {
		s := newBenchSearcher(b, docs)
		ctx := context.Background()
		for name, query := range queries {
			b.Run(fmt.Sprintf("docs_%d/%s", docs, name), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					resp, err := s.Search(ctx, query, 10)
					if err != nil {
						b.Fatalf("search failed: %v", err)
					}
					_ = resp
				}
			})
		}
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	s := newBenchSearcher(b, 200)
	ctx := context.Background()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := s.Search(ctx, "document frequency vector", 10)
			if err != nil {
				b.Fatalf("search failed: %v", err)
			}
			_ = resp
		}
	})
}

func BenchmarkSearchVaryingLimit(b *testing.B) {
	s := newBenchSearcher(b, 500)
	ctx := context.Background()
	for _, limit := range []int{1, 10, 50, 100} {
		b.Run(fmt.Sprintf("limit_%d", limit), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				resp, err := s.Search(ctx, "search index", limit)
				if err != nil {
					b.Fatalf("search failed: %v", err)
				}
				_ = resp
			}
		})
	}
}
