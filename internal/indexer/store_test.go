package indexer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer/artifact"
	"github.com/velsin/docsearch/pkg/config"
)

func newStoreAt(scanner *corpus.Scanner, dataDir string) *Store {
	cfg := config.IndexConfig{DataDir: dataDir, MinDocFreq: 1}
	an := analyzer.New(config.AnalyzerConfig{MinTokenLength: 1})
	return NewStore(NewBuilder(scanner, an, cfg), scanner, cfg)
}

func TestEnsureBuildsLazily(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{
		"alpha.txt": "apple banana",
		"beta.txt":  "banana cherry",
	})
	dataDir := t.TempDir()
	store := newStoreAt(scanner, dataDir)

	if store.Snapshot() != nil {
		t.Fatal("fresh store has a snapshot before Ensure")
	}

	ix, err := store.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if ix.DocCount() != 2 {
		t.Errorf("DocCount() = %d, want 2", ix.DocCount())
	}
	if store.Snapshot() != ix {
		t.Error("Snapshot() does not return the built index")
	}

	// The build also persisted an artifact.
	for _, name := range []string{artifact.IndexFile, artifact.DocumentsFile, artifact.TermsFile} {
		if _, err := os.Stat(filepath.Join(dataDir, name)); err != nil {
			t.Errorf("artifact file %s missing: %v", name, err)
		}
	}
}

func TestEnsureSharesOneBuild(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple banana"})
	store := newStoreAt(scanner, t.TempDir())

	var builds atomic.Int32
	store.SetOnBuild(func(BuildResult) { builds.Add(1) })

	const workers = 8
	results := make([]any, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ix, err := store.Ensure(context.Background())
			if err != nil {
				t.Errorf("Ensure() error: %v", err)
				return
			}
			results[i] = ix
		}(i)
	}
	wg.Wait()

	if n := builds.Load(); n != 1 {
		t.Errorf("%d builds ran, want 1", n)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent Ensure calls returned different snapshots")
		}
	}
}

func TestRebuildReusesUnchangedCorpus(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple banana"})
	store := newStoreAt(scanner, t.TempDir())

	if _, err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	result, err := store.Rebuild(context.Background(), false)
	if err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	if result.Status != BuildStatusReused {
		t.Errorf("Status = %q, want %q", result.Status, BuildStatusReused)
	}
	if result.Documents != 1 {
		t.Errorf("Documents = %d, want 1", result.Documents)
	}

	forced, err := store.Rebuild(context.Background(), true)
	if err != nil {
		t.Fatalf("forced Rebuild() error: %v", err)
	}
	if forced.Status != BuildStatusBuilt {
		t.Errorf("forced Status = %q, want %q", forced.Status, BuildStatusBuilt)
	}
}

func TestRebuildPicksUpCorpusChanges(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple banana"})
	store := newStoreAt(scanner, t.TempDir())

	if _, err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	path := filepath.Join(scanner.Dir(), "beta.txt")
	if err := os.WriteFile(path, []byte("cherry durian"), 0o644); err != nil {
		t.Fatalf("adding document: %v", err)
	}

	result, err := store.Rebuild(context.Background(), false)
	if err != nil {
		t.Fatalf("Rebuild() error: %v", err)
	}
	if result.Status != BuildStatusBuilt {
		t.Errorf("Status = %q, want %q", result.Status, BuildStatusBuilt)
	}
	if result.Documents != 2 {
		t.Errorf("Documents = %d, want 2", result.Documents)
	}
	if got := store.Snapshot().DocCount(); got != 2 {
		t.Errorf("Snapshot().DocCount() = %d, want 2", got)
	}
}

func TestOpenAdoptsMatchingArtifact(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple banana"})
	dataDir := t.TempDir()

	if _, err := newStoreAt(scanner, dataDir).Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}

	// A second store over the same folder starts warm from disk.
	reopened := newStoreAt(scanner, dataDir)
	reopened.Open()
	ix := reopened.Snapshot()
	if ix == nil {
		t.Fatal("Open() did not adopt the persisted artifact")
	}
	if ix.DocCount() != 1 {
		t.Errorf("DocCount() = %d, want 1", ix.DocCount())
	}
}

func TestOpenDiscardsStaleArtifact(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple banana"})
	dataDir := t.TempDir()

	if _, err := newStoreAt(scanner, dataDir).Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	path := filepath.Join(scanner.Dir(), "beta.txt")
	if err := os.WriteFile(path, []byte("cherry"), 0o644); err != nil {
		t.Fatalf("adding document: %v", err)
	}

	reopened := newStoreAt(scanner, dataDir)
	reopened.Open()
	if reopened.Snapshot() != nil {
		t.Error("Open() adopted an artifact whose fingerprint no longer matches")
	}
}

func TestOpenSurvivesCorruptArtifact(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple banana"})
	dataDir := t.TempDir()

	if _, err := newStoreAt(scanner, dataDir).Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	path := filepath.Join(dataDir, artifact.IndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reopened := newStoreAt(scanner, dataDir)
	reopened.Open()
	if reopened.Snapshot() != nil {
		t.Error("Open() adopted a corrupt artifact")
	}

	// The damaged artifact still gets replaced by the next build.
	if _, err := reopened.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() after corrupt artifact: %v", err)
	}
}

func TestRebuildArtifactIsByteIdentical(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{
		"alpha.txt": "apple banana apple cherry",
		"beta.txt":  "banana cherry durian",
		"gamma.txt": "durian apple zebra quokka",
	})
	dirA, dirB := t.TempDir(), t.TempDir()

	if _, err := newStoreAt(scanner, dirA).Rebuild(context.Background(), true); err != nil {
		t.Fatalf("first Rebuild() error: %v", err)
	}
	if _, err := newStoreAt(scanner, dirB).Rebuild(context.Background(), true); err != nil {
		t.Fatalf("second Rebuild() error: %v", err)
	}

	for _, name := range []string{artifact.IndexFile, artifact.DocumentsFile, artifact.TermsFile} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		b, err := os.ReadFile(filepath.Join(dirB, name))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("independent rebuilds produced different %s", name)
		}
	}
}

func TestBuildFailureNotifiesAndKeepsNothing(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple"})
	store := newStoreAt(scanner, t.TempDir())

	var lastStatus string
	store.SetOnBuild(func(r BuildResult) { lastStatus = r.Status })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Ensure(ctx); err == nil {
		t.Fatal("Ensure() with canceled context succeeded, want error")
	}
	if lastStatus != BuildStatusFailed {
		t.Errorf("OnBuild status = %q, want %q", lastStatus, BuildStatusFailed)
	}
	if store.Snapshot() != nil {
		t.Error("failed build left a snapshot behind")
	}
}

func TestOnBuildSeesFreshSnapshot(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple"})
	store := newStoreAt(scanner, t.TempDir())

	var seen bool
	store.SetOnBuild(func(r BuildResult) {
		// The snapshot swap happens before notification, so callbacks can
		// read the new index through the store.
		if r.Status == BuildStatusBuilt && store.Snapshot() != nil {
			seen = true
		}
	})

	if _, err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	if !seen {
		t.Error("OnBuild callback did not observe the new snapshot")
	}
}
