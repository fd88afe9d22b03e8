package artifact

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/velsin/docsearch/internal/indexer/index"
	apperrors "github.com/velsin/docsearch/pkg/errors"
)

func testIndex() *index.Index {
	documents := []index.DocumentInfo{
		{Name: "a.txt", Size: 120},
		{Name: "b.txt", Size: 64},
	}
	terms := []index.TermInfo{
		{Term: "apple", ID: 0, DocFreq: 2},
		{Term: "banana", ID: 1, DocFreq: 1},
	}
	entries := []index.Entry{
		{DocID: 0, TermID: 0, Weight: 0.8},
		{DocID: 0, TermID: 1, Weight: 0.6},
		{DocID: 1, TermID: 0, Weight: 1.0},
	}
	return index.New(documents, terms, entries, 0x12345678)
}

func writeTestArtifact(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := Write(dir, testIndex()); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	return dir
}

func TestWriteLoadRoundtrip(t *testing.T) {
	dir := writeTestArtifact(t)

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := testIndex()
	if !reflect.DeepEqual(got.Documents, want.Documents) {
		t.Errorf("Documents = %+v, want %+v", got.Documents, want.Documents)
	}
	if !reflect.DeepEqual(got.Terms, want.Terms) {
		t.Errorf("Terms = %+v, want %+v", got.Terms, want.Terms)
	}
	if !reflect.DeepEqual(got.Entries, want.Entries) {
		t.Errorf("Entries = %+v, want %+v", got.Entries, want.Entries)
	}
	if got.Fingerprint != want.Fingerprint {
		t.Errorf("Fingerprint = %08x, want %08x", got.Fingerprint, want.Fingerprint)
	}
}

func TestWriteEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, index.New(nil, nil, nil, 42)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.DocCount() != 0 || got.VocabularySize() != 0 || got.EntryCount() != 0 {
		t.Errorf("empty index loaded as %d docs, %d terms, %d entries",
			got.DocCount(), got.VocabularySize(), got.EntryCount())
	}
	if got.Fingerprint != 42 {
		t.Errorf("Fingerprint = %d, want 42", got.Fingerprint)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := writeTestArtifact(t)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
	if len(entries) != 3 {
		t.Errorf("artifact has %d files, want 3", len(entries))
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want fs.ErrNotExist", err)
	}
}

func TestLoadDetectsPayloadCorruption(t *testing.T) {
	dir := writeTestArtifact(t)
	path := filepath.Join(dir, IndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[HeaderSize+3] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); !errors.Is(err, apperrors.ErrArtifactCorrupt) {
		t.Errorf("Load() error = %v, want ErrArtifactCorrupt", err)
	}
}

func TestLoadDetectsTruncation(t *testing.T) {
	dir := writeTestArtifact(t)
	path := filepath.Join(dir, IndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	for _, keep := range []int{len(data) - 1, HeaderSize, 10, 0} {
		if err := os.WriteFile(path, data[:keep], 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := Load(dir); !errors.Is(err, apperrors.ErrArtifactCorrupt) {
			t.Errorf("Load() of %d-byte file error = %v, want ErrArtifactCorrupt", keep, err)
		}
	}
}

func TestLoadDetectsBadMagic(t *testing.T) {
	dir := writeTestArtifact(t)
	path := filepath.Join(dir, IndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	binary.LittleEndian.PutUint32(data[0:4], 0x41414141)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); !errors.Is(err, apperrors.ErrArtifactCorrupt) {
		t.Errorf("Load() error = %v, want ErrArtifactCorrupt", err)
	}
}

func TestLoadDetectsEntryOrderViolation(t *testing.T) {
	dir := writeTestArtifact(t)
	path := filepath.Join(dir, IndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// Swap the first two entries and re-seal the checksum so only the
	// ordering invariant is violated.
	payload := data[HeaderSize : len(data)-FooterSize]
	for i := 0; i < EntrySize; i++ {
		payload[i], payload[EntrySize+i] = payload[EntrySize+i], payload[i]
	}
	footer := data[len(data)-FooterSize:]
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(payload))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); !errors.Is(err, apperrors.ErrArtifactCorrupt) {
		t.Errorf("Load() error = %v, want ErrArtifactCorrupt", err)
	}
}

func TestLoadDetectsTamperedTermIDs(t *testing.T) {
	dir := writeTestArtifact(t)
	path := filepath.Join(dir, TermsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tampered := strings.Replace(string(data), "banana,1,1", "banana,7,1", 1)
	if tampered == string(data) {
		t.Fatal("fixture row not found in terms.csv")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); !errors.Is(err, apperrors.ErrArtifactCorrupt) {
		t.Errorf("Load() error = %v, want ErrArtifactCorrupt", err)
	}
}

func TestLoadDetectsDocumentCountMismatch(t *testing.T) {
	dir := writeTestArtifact(t)
	path := filepath.Join(dir, DocumentsFile)
	if err := os.WriteFile(path, []byte("a.txt,120\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(dir); !errors.Is(err, apperrors.ErrArtifactCorrupt) {
		t.Errorf("Load() error = %v, want ErrArtifactCorrupt", err)
	}
}
