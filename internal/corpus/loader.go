package corpus

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	apperrors "github.com/velsin/docsearch/pkg/errors"
)

// Load returns the plain-text content of a named corpus document. PDF
// files have their text extracted; everything else is read verbatim.
func (s *Scanner) Load(name string) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if strings.ToLower(filepath.Ext(name)) == ".pdf" {
		return extractPDFText(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, name)
		}
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

// ReadRaw returns the unprocessed bytes of a named corpus document. The
// preview layer uses this for Markdown sources that must be rendered
// rather than indexed.
func (s *Scanner) ReadRaw(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// Stat returns the size and modification time of a named corpus document.
// Files with extensions outside the corpus set are reported as missing, so
// the preview surface serves exactly what the index can see.
func (s *Scanner) Stat(name string) (Document, error) {
	path, err := s.resolve(name)
	if err != nil {
		return Document{}, err
	}
	if _, ok := s.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return Document{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, name)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, name)
		}
		return Document{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return Document{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, name)
	}
	return Document{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// resolve maps a document name to its path inside the corpus folder. Names
// containing path separators or leading dots are rejected so requests can
// never escape the folder.
func (s *Scanner) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: bad document name %q", apperrors.ErrInvalidInput, name)
	}
	return filepath.Join(s.dir, name), nil
}

// extractPDFText pulls the plain text out of a PDF file.
func extractPDFText(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	content, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return "", fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return buf.String(), nil
}
