// indexctl builds and inspects the search index from the command line,
// without going through the HTTP service.
//
// Usage:
//
//	indexctl [-config path] [-v] build [-force]
//	indexctl [-config path] [-v] stats
//	indexctl [-config path] [-v] search [-limit n] <query terms...>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer"
	"github.com/velsin/docsearch/internal/indexer/artifact"
	"github.com/velsin/docsearch/internal/searcher"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexctl: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Warnings only by default so command output stays clean.
	level := "warn"
	if *verbose {
		level = cfg.Logging.Level
	}
	logger.Setup(level, "text")

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "build":
		err = runBuild(cfg, args[1:])
	case "stats":
		err = runStats(cfg)
	case "search":
		err = runSearch(cfg, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: indexctl [-config path] [-v] <build|stats|search> [args]")
}

func newStore(cfg *config.Config) *indexer.Store {
	scanner := corpus.NewScanner(cfg.Corpus)
	an := analyzer.New(cfg.Analyzer)
	builder := indexer.NewBuilder(scanner, an, cfg.Index)
	return indexer.NewStore(builder, scanner, cfg.Index)
}

// runBuild indexes the corpus and persists the artifact. Without -force
// the build is skipped when the existing artifact still matches the
// corpus fingerprint.
func runBuild(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	force := fs.Bool("force", false, "rebuild even when the corpus is unchanged")
	fs.Parse(args)

	store := newStore(cfg)
	store.Open()

	result, err := store.Rebuild(context.Background(), *force)
	if err != nil {
		return err
	}

	fmt.Printf("status      %s\n", result.Status)
	fmt.Printf("documents   %d\n", result.Documents)
	fmt.Printf("vocabulary  %d\n", result.Vocabulary)
	fmt.Printf("entries     %d\n", result.Entries)
	fmt.Printf("corpus      %d bytes\n", result.CorpusBytes)
	if result.Status == indexer.BuildStatusBuilt {
		fmt.Printf("duration    %s\n", result.Duration)
	}
	return nil
}

// runStats prints the shape of the persisted index artifact.
func runStats(cfg *config.Config) error {
	ix, err := artifact.Load(cfg.Index.DataDir)
	if err != nil {
		return fmt.Errorf("no usable index artifact in %s (run 'indexctl build'): %w", cfg.Index.DataDir, err)
	}

	fmt.Printf("documents    %d\n", ix.DocCount())
	fmt.Printf("vocabulary   %d\n", ix.VocabularySize())
	fmt.Printf("entries      %d\n", ix.EntryCount())
	fmt.Printf("corpus       %d bytes\n", ix.CorpusBytes())
	fmt.Printf("fingerprint  %08x\n", ix.Fingerprint)
	return nil
}

// runSearch queries the index and prints one "score<TAB>name" line per
// matching document. The index is built first when none exists on disk.
func runSearch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", cfg.Search.DefaultLimit, "maximum results to print")
	fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search requires query terms")
	}

	store := newStore(cfg)
	store.Open()

	an := analyzer.New(cfg.Analyzer)
	search := searcher.New(store, an, cfg.Search)

	resp, err := search.Search(context.Background(), query, *limit)
	if err != nil {
		return err
	}
	for _, r := range resp.Results {
		fmt.Printf("%.6f\t%s\n", r.Score, r.Name)
	}
	return nil
}
