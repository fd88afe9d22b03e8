// Package corpus enumerates the document folder and loads file contents
// for indexing and preview. A missing or unreadable folder is treated as
// an empty corpus rather than an error, so the service always starts.
package corpus

import (
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/velsin/docsearch/pkg/config"
)

// Document describes one corpus file as seen by a scan.
type Document struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Scanner lists and reads documents under a single folder.
type Scanner struct {
	dir         string
	extensions  map[string]struct{}
	maxFileSize int64
	logger      *slog.Logger
}

// NewScanner creates a Scanner for the configured corpus folder.
func NewScanner(cfg config.CorpusConfig) *Scanner {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Scanner{
		dir:         cfg.Dir,
		extensions:  exts,
		maxFileSize: cfg.MaxFileSize,
		logger:      slog.Default().With("component", "corpus"),
	}
}

// Dir returns the corpus folder path.
func (s *Scanner) Dir() string {
	return s.dir
}

// Scan enumerates eligible files in the corpus folder, sorted by name.
// Subdirectories, hidden files, unsupported extensions, and files over
// the size cap are skipped. A missing folder yields an empty corpus.
func (s *Scanner) Scan() ([]Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("corpus folder does not exist, treating as empty", "dir", s.dir)
			return nil, nil
		}
		s.logger.Warn("corpus folder unreadable, treating as empty", "dir", s.dir, "error", err)
		return nil, nil
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := s.extensions[ext]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable file", "name", name, "error", err)
			continue
		}
		if s.maxFileSize > 0 && info.Size() > s.maxFileSize {
			s.logger.Warn("skipping oversized file", "name", name, "size", info.Size(), "limit", s.maxFileSize)
			continue
		}
		docs = append(docs, Document{
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Fingerprint computes a checksum over the (name, size, mtime) manifest of
// a scan. Two scans of an unchanged folder produce the same fingerprint,
// so a stored fingerprint detects corpus changes without re-reading file
// contents. Docs must be in the sorted order Scan returns.
func Fingerprint(docs []Document) uint32 {
	h := crc32.NewIEEE()
	for _, doc := range docs {
		h.Write([]byte(doc.Name))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(doc.Size, 10)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(doc.ModTime.UnixNano(), 10)))
		h.Write([]byte{0})
	}
	return h.Sum32()
}
