// Package artifact persists a built index as three flat files inside the
// data directory: a document table (documents.csv), a vocabulary table
// (terms.csv), and the binary weight matrix (index.dat). The artifact is
// a cache derived entirely from the corpus; it carries no clocks or
// other environment-dependent fields, so rebuilding an unchanged corpus
// reproduces every file byte for byte.
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
)

// MagicBytes identifies a valid index.dat file.
const (
	MagicBytes    uint32 = 0x44534958
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 16
	EntrySize     int    = 16

	IndexFile     = "index.dat"
	DocumentsFile = "documents.csv"
	TermsFile     = "terms.csv"
)

// Write atomically persists ix into dir, replacing any previous artifact.
// Each file is written to a .tmp sibling first and renamed on success.
func Write(dir string, ix *index.Index) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := writeDocuments(filepath.Join(dir, DocumentsFile), ix.Documents); err != nil {
		return fmt.Errorf("writing document table: %w", err)
	}
	if err := writeTerms(filepath.Join(dir, TermsFile), ix.Terms); err != nil {
		return fmt.Errorf("writing vocabulary table: %w", err)
	}
	if err := writeMatrix(filepath.Join(dir, IndexFile), ix); err != nil {
		return fmt.Errorf("writing weight matrix: %w", err)
	}
	return nil
}

// writeDocuments writes one `name,size` record per document. A document's
// ID is its row position, so no ID column is stored.
func writeDocuments(path string, documents []index.DocumentInfo) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for _, doc := range documents {
		if err := w.Write([]string{doc.Name, strconv.FormatInt(doc.Size, 10)}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return commit(f, path)
}

// writeTerms writes one `term,id,df` record per vocabulary entry.
func writeTerms(path string, terms []index.TermInfo) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for _, t := range terms {
		record := []string{
			t.Term,
			strconv.FormatUint(uint64(t.ID), 10),
			strconv.FormatUint(uint64(t.DocFreq), 10),
		}
		if err := w.Write(record); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return commit(f, path)
}

// writeMatrix writes index.dat: a fixed header, the (docID, termID, weight)
// triples in doc-major order, and a checksum footer.
func writeMatrix(path string, ix *index.Index) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return err
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(ix.DocCount()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(ix.VocabularySize()))
	binary.LittleEndian.PutUint64(header[16:24], uint64(ix.EntryCount()))
	binary.LittleEndian.PutUint32(header[24:28], ix.Fingerprint)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return err
	}

	payload := make([]byte, len(ix.Entries)*EntrySize)
	for i, e := range ix.Entries {
		off := i * EntrySize
		binary.LittleEndian.PutUint32(payload[off:off+4], e.DocID)
		binary.LittleEndian.PutUint32(payload[off+4:off+8], e.TermID)
		binary.LittleEndian.PutUint64(payload[off+8:off+16], math.Float64bits(e.Weight))
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return err
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint64(footer[4:12], uint64(ix.EntryCount()))
	if _, err := f.Write(footer); err != nil {
		f.Close()
		return err
	}
	return commit(f, path)
}

// commit syncs and renames a .tmp file into place.
func commit(f *os.File, path string) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("renaming %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
