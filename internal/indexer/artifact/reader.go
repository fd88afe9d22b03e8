package artifact

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/velsin/docsearch/internal/indexer/index"
	apperrors "github.com/velsin/docsearch/pkg/errors"
)

// Load reads a persisted artifact from dir and reconstructs the in-memory
// index. A missing index.dat surfaces as fs.ErrNotExist; any structural
// damage (bad magic, mismatched counts, checksum failure, malformed
// tables) is reported as ErrArtifactCorrupt so callers can fall back to
// a rebuild.
func Load(dir string) (*index.Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", IndexFile, err)
	}
	docCount, termCount, entries, fingerprint, err := decodeMatrix(data)
	if err != nil {
		return nil, err
	}

	documents, err := readDocuments(filepath.Join(dir, DocumentsFile))
	if err != nil {
		return nil, err
	}
	if len(documents) != docCount {
		return nil, corrupt("document table has %d rows, header says %d", len(documents), docCount)
	}
	terms, err := readTerms(filepath.Join(dir, TermsFile))
	if err != nil {
		return nil, err
	}
	if len(terms) != termCount {
		return nil, corrupt("vocabulary table has %d rows, header says %d", len(terms), termCount)
	}

	for _, e := range entries {
		if int(e.DocID) >= docCount || int(e.TermID) >= termCount {
			return nil, corrupt("entry references doc %d term %d outside tables", e.DocID, e.TermID)
		}
	}
	return index.New(documents, terms, entries, fingerprint), nil
}

// decodeMatrix validates and decodes index.dat.
func decodeMatrix(data []byte) (docCount, termCount int, entries []index.Entry, fingerprint uint32, err error) {
	if len(data) < HeaderSize+FooterSize {
		return 0, 0, nil, 0, corrupt("%s truncated at %d bytes", IndexFile, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != MagicBytes {
		return 0, 0, nil, 0, corrupt("bad magic bytes %#x", magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != FormatVersion {
		return 0, 0, nil, 0, corrupt("unsupported format version %d", version)
	}
	docCount = int(binary.LittleEndian.Uint32(data[8:12]))
	termCount = int(binary.LittleEndian.Uint32(data[12:16]))
	entryCount := binary.LittleEndian.Uint64(data[16:24])
	fingerprint = binary.LittleEndian.Uint32(data[24:28])

	want := HeaderSize + int(entryCount)*EntrySize + FooterSize
	if len(data) != want {
		return 0, 0, nil, 0, corrupt("%s is %d bytes, expected %d", IndexFile, len(data), want)
	}
	payload := data[HeaderSize : len(data)-FooterSize]
	footer := data[len(data)-FooterSize:]
	if sum := crc32.ChecksumIEEE(payload); sum != binary.LittleEndian.Uint32(footer[0:4]) {
		return 0, 0, nil, 0, corrupt("payload checksum mismatch")
	}
	if echo := binary.LittleEndian.Uint64(footer[4:12]); echo != entryCount {
		return 0, 0, nil, 0, corrupt("footer entry count %d disagrees with header %d", echo, entryCount)
	}

	entries = make([]index.Entry, entryCount)
	for i := range entries {
		off := i * EntrySize
		entries[i] = index.Entry{
			DocID:  binary.LittleEndian.Uint32(payload[off : off+4]),
			TermID: binary.LittleEndian.Uint32(payload[off+4 : off+8]),
			Weight: math.Float64frombits(binary.LittleEndian.Uint64(payload[off+8 : off+16])),
		}
		if i > 0 {
			prev := entries[i-1]
			cur := entries[i]
			if prev.DocID > cur.DocID || (prev.DocID == cur.DocID && prev.TermID >= cur.TermID) {
				return 0, 0, nil, 0, corrupt("entries out of (doc, term) order at position %d", i)
			}
		}
	}
	return docCount, termCount, entries, fingerprint, nil
}

// readDocuments parses documents.csv; the row position is the document ID.
func readDocuments(path string) ([]index.DocumentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DocumentsFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	records, err := r.ReadAll()
	if err != nil {
		return nil, corrupt("parsing %s: %v", DocumentsFile, err)
	}
	documents := make([]index.DocumentInfo, 0, len(records))
	for i, record := range records {
		size, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, corrupt("row %d of %s: bad size %q", i, DocumentsFile, record[1])
		}
		documents = append(documents, index.DocumentInfo{Name: record[0], Size: size})
	}
	return documents, nil
}

// readTerms parses terms.csv, checking that term IDs are dense and in row
// order.
func readTerms(path string) ([]index.TermInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", TermsFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	records, err := r.ReadAll()
	if err != nil {
		return nil, corrupt("parsing %s: %v", TermsFile, err)
	}
	terms := make([]index.TermInfo, 0, len(records))
	for i, record := range records {
		id, err := strconv.ParseUint(record[1], 10, 32)
		if err != nil || int(id) != i {
			return nil, corrupt("row %d of %s: bad term id %q", i, TermsFile, record[1])
		}
		df, err := strconv.ParseUint(record[2], 10, 32)
		if err != nil {
			return nil, corrupt("row %d of %s: bad document frequency %q", i, TermsFile, record[2])
		}
		terms = append(terms, index.TermInfo{
			Term:    record[0],
			ID:      uint32(id),
			DocFreq: uint32(df),
		})
	}
	return terms, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrArtifactCorrupt, fmt.Sprintf(format, args...))
}
