package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer/artifact"
	"github.com/velsin/docsearch/internal/indexer/index"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/resilience"
)

// Build outcome statuses reported through BuildResult.
const (
	BuildStatusBuilt  = "built"
	BuildStatusReused = "reused"
	BuildStatusFailed = "failed"
)

// BuildResult describes one Ensure or Rebuild pass over the corpus.
type BuildResult struct {
	Status      string        `json:"status"`
	Documents   int           `json:"documents"`
	Vocabulary  int           `json:"vocabulary"`
	Entries     int           `json:"entries"`
	CorpusBytes int64         `json:"corpus_bytes"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
}

// Store owns the current index snapshot. It loads a persisted artifact at
// startup, builds lazily on first use when nothing valid is on disk, and
// swaps fresh snapshots in atomically on rebuild. Concurrent first
// searches share a single build.
type Store struct {
	builder *Builder
	scanner *corpus.Scanner
	cfg     config.IndexConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	current *index.Index

	buildMu sync.Mutex
	flight  singleflight.Group

	onBuild func(BuildResult)
}

// NewStore creates a Store around the given builder.
func NewStore(builder *Builder, scanner *corpus.Scanner, cfg config.IndexConfig) *Store {
	return &Store{
		builder: builder,
		scanner: scanner,
		cfg:     cfg,
		logger:  slog.Default().With("component", "index-store"),
	}
}

// SetOnBuild registers a callback invoked after every build attempt,
// including reused and failed ones. Must be called before the store is
// shared across goroutines.
func (s *Store) SetOnBuild(fn func(BuildResult)) {
	s.onBuild = fn
}

// Snapshot returns the current index, or nil when none has been built yet.
func (s *Store) Snapshot() *index.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Open tries to adopt a persisted artifact. A missing artifact defers the
// build to the first search; a corrupt or stale one is discarded the same
// way. Open never fails the service start.
func (s *Store) Open() {
	ix, err := artifact.Load(s.cfg.DataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no index artifact on disk, deferring build to first search")
		} else {
			s.logger.Warn("discarding unusable index artifact", "error", err)
		}
		return
	}

	scanned, scanErr := s.scanner.Scan()
	if scanErr != nil {
		s.logger.Warn("corpus scan failed during artifact check", "error", scanErr)
		return
	}
	if current := corpus.Fingerprint(scanned); current != ix.Fingerprint {
		s.logger.Info("index artifact stale, deferring rebuild to first search",
			"artifact_fingerprint", ix.Fingerprint,
			"corpus_fingerprint", current,
		)
		return
	}

	s.mu.Lock()
	s.current = ix
	s.mu.Unlock()
	s.logger.Info("index artifact loaded",
		"documents", ix.DocCount(),
		"vocabulary", ix.VocabularySize(),
		"entries", ix.EntryCount(),
	)
}

// Ensure returns the current snapshot, building one first when absent.
func (s *Store) Ensure(ctx context.Context) (*index.Index, error) {
	if ix := s.Snapshot(); ix != nil {
		return ix, nil
	}
	v, err, _ := s.flight.Do("build", func() (any, error) {
		if ix := s.Snapshot(); ix != nil {
			return ix, nil
		}
		ix, _, err := s.runBuild(ctx)
		return ix, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Index), nil
}

// Rebuild re-indexes the corpus. When force is false and the current
// snapshot still matches the corpus fingerprint, the rebuild is skipped
// and the result reports status "reused".
func (s *Store) Rebuild(ctx context.Context, force bool) (BuildResult, error) {
	if !force {
		if ix := s.Snapshot(); ix != nil {
			scanned, err := s.scanner.Scan()
			if err == nil && corpus.Fingerprint(scanned) == ix.Fingerprint {
				result := resultFor(BuildStatusReused, ix, 0)
				s.notify(result)
				s.logger.Info("corpus unchanged, keeping current index")
				return result, nil
			}
		}
	}
	_, result, err := s.runBuild(ctx)
	return result, err
}

// runBuild executes one serialized build pass: compute the index, swap it
// in, then persist the artifact. A persistence failure is logged but does
// not fail the build, since the in-memory snapshot is already serving.
func (s *Store) runBuild(ctx context.Context) (*index.Index, BuildResult, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	var ix *index.Index
	err := resilience.WithTimeout(ctx, s.cfg.BuildTimeout, "index build", func(ctx context.Context) error {
		var buildErr error
		ix, buildErr = s.builder.Build(ctx)
		return buildErr
	})
	if err != nil {
		result := BuildResult{Status: BuildStatusFailed, Duration: time.Since(start)}
		result.DurationMS = result.Duration.Milliseconds()
		s.notify(result)
		s.logger.Error("index build failed", "error", err)
		return nil, result, err
	}

	s.mu.Lock()
	s.current = ix
	s.mu.Unlock()

	if err := artifact.Write(s.cfg.DataDir, ix); err != nil {
		s.logger.Warn("index built but artifact not persisted", "error", err)
	}

	result := resultFor(BuildStatusBuilt, ix, time.Since(start))
	s.notify(result)
	return ix, result, nil
}

func (s *Store) notify(result BuildResult) {
	if s.onBuild != nil {
		s.onBuild(result)
	}
}

func resultFor(status string, ix *index.Index, duration time.Duration) BuildResult {
	return BuildResult{
		Status:      status,
		Documents:   ix.DocCount(),
		Vocabulary:  ix.VocabularySize(),
		Entries:     ix.EntryCount(),
		CorpusBytes: ix.CorpusBytes(),
		Duration:    duration,
		DurationMS:  duration.Milliseconds(),
	}
}
