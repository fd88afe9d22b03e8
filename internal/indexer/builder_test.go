package indexer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer/index"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/tracing"
)

func writeCorpus(t *testing.T, files map[string]string) *corpus.Scanner {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return corpus.NewScanner(config.CorpusConfig{
		Dir:        dir,
		Extensions: []string{".txt", ".pdf"},
	})
}

func testBuilder(scanner *corpus.Scanner, minDocFreq int) *Builder {
	an := analyzer.New(config.AnalyzerConfig{MinTokenLength: 1})
	return NewBuilder(scanner, an, config.IndexConfig{MinDocFreq: minDocFreq})
}

// threeDocCorpus is the worked example used across the builder tests:
//
//	alpha.txt  "apple banana apple"         df: apple=1 banana=2
//	beta.txt   "banana cherry"                  cherry=2 durian=1
//	gamma.txt  "cherry durian cherry durian"
func threeDocCorpus(t *testing.T) *corpus.Scanner {
	t.Helper()
	return writeCorpus(t, map[string]string{
		"alpha.txt": "apple banana apple",
		"beta.txt":  "banana cherry",
		"gamma.txt": "cherry durian cherry durian",
	})
}

func TestBuildTables(t *testing.T) {
	scanner := threeDocCorpus(t)
	ix, err := testBuilder(scanner, 1).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	wantDocs := []string{"alpha.txt", "beta.txt", "gamma.txt"}
	if ix.DocCount() != len(wantDocs) {
		t.Fatalf("DocCount() = %d, want %d", ix.DocCount(), len(wantDocs))
	}
	for i, name := range wantDocs {
		if ix.Documents[i].Name != name {
			t.Errorf("Documents[%d].Name = %q, want %q", i, ix.Documents[i].Name, name)
		}
	}

	wantTerms := []index.TermInfo{
		{Term: "apple", ID: 0, DocFreq: 1},
		{Term: "banana", ID: 1, DocFreq: 2},
		{Term: "cherry", ID: 2, DocFreq: 2},
		{Term: "durian", ID: 3, DocFreq: 1},
	}
	if ix.VocabularySize() != len(wantTerms) {
		t.Fatalf("VocabularySize() = %d, want %d", ix.VocabularySize(), len(wantTerms))
	}
	for i, want := range wantTerms {
		if ix.Terms[i] != want {
			t.Errorf("Terms[%d] = %+v, want %+v", i, ix.Terms[i], want)
		}
	}

	scanned, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if ix.Fingerprint != corpus.Fingerprint(scanned) {
		t.Errorf("Fingerprint = %08x, want %08x", ix.Fingerprint, corpus.Fingerprint(scanned))
	}
}

func TestBuildWeights(t *testing.T) {
	ix, err := testBuilder(threeDocCorpus(t), 1).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	// Every document vector is L2-normalised.
	norms := make([]float64, ix.DocCount())
	for _, e := range ix.Entries {
		norms[e.DocID] += e.Weight * e.Weight
	}
	for docID, norm := range norms {
		if math.Abs(norm-1) > 1e-9 {
			t.Errorf("doc %d squared norm = %v, want 1", docID, norm)
		}
	}

	// Entries come out in (DocID, TermID) order.
	for i := 1; i < len(ix.Entries); i++ {
		prev, cur := ix.Entries[i-1], ix.Entries[i]
		if cur.DocID < prev.DocID || (cur.DocID == prev.DocID && cur.TermID <= prev.TermID) {
			t.Fatalf("entries out of order at %d: %+v then %+v", i, prev, cur)
		}
	}

	weight := func(docID, termID uint32) float64 {
		for _, e := range ix.Entries {
			if e.DocID == docID && e.TermID == termID {
				return e.Weight
			}
		}
		t.Fatalf("no entry for doc %d term %d", docID, termID)
		return 0
	}

	// In alpha.txt, "apple" (tf=2, df=1) outweighs "banana" (tf=1, df=2).
	if weight(0, 0) <= weight(0, 1) {
		t.Errorf("apple weight %v not above banana weight %v", weight(0, 0), weight(0, 1))
	}

	// beta.txt holds two terms with equal tf and df, so both normalise
	// to exactly 1/sqrt(2).
	want := 1 / math.Sqrt2
	for _, termID := range []uint32{1, 2} {
		if got := weight(1, termID); math.Abs(got-want) > 1e-12 {
			t.Errorf("beta weight for term %d = %v, want %v", termID, got, want)
		}
	}

	// Cross-check one weight against the formula end to end:
	// alpha/apple = 2*idf(1) / sqrt((2*idf(1))^2 + idf(2)^2).
	idf := func(df int) float64 { return math.Log(float64(1+3)/float64(1+df)) + 1 }
	apple := 2 * idf(1)
	banana := idf(2)
	wantApple := apple / math.Sqrt(apple*apple+banana*banana)
	if got := weight(0, 0); math.Abs(got-wantApple) > 1e-12 {
		t.Errorf("alpha apple weight = %v, want %v", got, wantApple)
	}
}

func TestBuildMinDocFreqPrunesVocabulary(t *testing.T) {
	ix, err := testBuilder(threeDocCorpus(t), 2).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if ix.VocabularySize() != 2 {
		t.Fatalf("VocabularySize() = %d, want 2", ix.VocabularySize())
	}
	if ix.Terms[0].Term != "banana" || ix.Terms[1].Term != "cherry" {
		t.Fatalf("pruned vocabulary = %+v, want banana, cherry", ix.Terms)
	}

	// alpha.txt keeps a single surviving term, so its vector collapses
	// to weight 1. Documents stay in the table even when pruning leaves
	// them a short vector.
	if ix.DocCount() != 3 {
		t.Errorf("DocCount() = %d, want 3", ix.DocCount())
	}
	for _, e := range ix.Entries {
		if e.DocID == 0 {
			if math.Abs(e.Weight-1) > 1e-12 {
				t.Errorf("alpha single-term weight = %v, want 1", e.Weight)
			}
		}
	}
}

func TestBuildSkipsUnreadableDocument(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{
		"alpha.txt":  "apple banana",
		"broken.pdf": "this is not a pdf",
	})

	ix, err := testBuilder(scanner, 1).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if ix.DocCount() != 1 {
		t.Fatalf("DocCount() = %d, want 1", ix.DocCount())
	}
	if ix.Documents[0].Name != "alpha.txt" {
		t.Errorf("Documents[0].Name = %q, want alpha.txt", ix.Documents[0].Name)
	}
}

func TestBuildSkipsEmptyDocument(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{
		"alpha.txt": "apple banana",
		"blank.txt": " \t\n",
		"punct.txt": "--- ... !!!",
	})

	ix, err := testBuilder(scanner, 1).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if ix.DocCount() != 1 {
		t.Fatalf("DocCount() = %d, want 1", ix.DocCount())
	}
	if ix.Documents[0].Name != "alpha.txt" {
		t.Errorf("Documents[0].Name = %q, want alpha.txt", ix.Documents[0].Name)
	}

	// Skipped files must not inflate N: with one surviving document both
	// terms get idf = ln(2/2)+1 = 1, so the vector normalises to 1/sqrt2
	// per component.
	for _, e := range ix.Entries {
		if math.Abs(e.Weight-1/math.Sqrt2) > 1e-12 {
			t.Errorf("entry %+v weight = %v, want 1/sqrt2", e, e.Weight)
		}
	}
}

func TestBuildEmptyCorpus(t *testing.T) {
	scanner := writeCorpus(t, nil)
	ix, err := testBuilder(scanner, 1).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if ix.DocCount() != 0 || ix.VocabularySize() != 0 || ix.EntryCount() != 0 {
		t.Errorf("empty corpus index = %d docs, %d terms, %d entries, want all zero",
			ix.DocCount(), ix.VocabularySize(), ix.EntryCount())
	}
}

func TestBuildCanceledContext(t *testing.T) {
	scanner := writeCorpus(t, map[string]string{"alpha.txt": "apple"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := testBuilder(scanner, 1).Build(ctx); err == nil {
		t.Error("Build() with canceled context succeeded, want error")
	}
}

func TestBuildRecordsSpan(t *testing.T) {
	ctx, root := tracing.StartSpan(context.Background(), "rebuild", "trace-7")
	if _, err := testBuilder(threeDocCorpus(t), 1).Build(ctx); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	root.End()

	if len(root.Children) != 1 || root.Children[0].Name != "index-build" {
		t.Fatalf("trace children = %+v, want a single index-build span", root.Children)
	}
	span := root.Children[0]
	if span.TraceID != "trace-7" {
		t.Errorf("span trace ID = %q, want trace-7", span.TraceID)
	}
	if span.EndTime.IsZero() {
		t.Error("index-build span was never ended")
	}
	if span.Attrs["documents"] != 3 || span.Attrs["vocabulary"] != 4 {
		t.Errorf("span attrs = %v, want documents=3 vocabulary=4", span.Attrs)
	}
}
