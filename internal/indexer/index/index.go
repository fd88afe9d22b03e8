// Package index holds the immutable in-memory form of a built search
// index: the document and vocabulary tables plus the L2-normalised
// document-term weight matrix, kept in doc-major order for persistence
// and term-major posting lists for scoring.
package index

// DocumentInfo is one row of the document table. A document's ID is its
// position in the Documents slice.
type DocumentInfo struct {
	Name string
	Size int64
}

// TermInfo is one row of the vocabulary table.
type TermInfo struct {
	Term    string
	ID      uint32
	DocFreq uint32
}

// Entry is one non-zero cell of the document-term weight matrix.
type Entry struct {
	DocID  uint32
	TermID uint32
	Weight float64
}

// Posting records a single document's weight for some term.
type Posting struct {
	DocID  uint32
	Weight float64
}

// Index is an immutable snapshot of a built index. All lookups are
// read-only, so a snapshot may be shared across goroutines freely and
// replaced only by swapping the whole value.
type Index struct {
	Documents   []DocumentInfo
	Terms       []TermInfo
	Entries     []Entry
	Fingerprint uint32

	termIDs  map[string]uint32
	postings map[uint32][]Posting
}

// New assembles an Index from its tables and weight entries. Entries must
// be sorted by (DocID, TermID); the term-major posting lists derived here
// inherit ascending DocID order from that.
func New(documents []DocumentInfo, terms []TermInfo, entries []Entry, fingerprint uint32) *Index {
	ix := &Index{
		Documents:   documents,
		Terms:       terms,
		Entries:     entries,
		Fingerprint: fingerprint,
		termIDs:     make(map[string]uint32, len(terms)),
		postings:    make(map[uint32][]Posting, len(terms)),
	}
	for _, t := range terms {
		ix.termIDs[t.Term] = t.ID
	}
	for _, e := range entries {
		ix.postings[e.TermID] = append(ix.postings[e.TermID], Posting{
			DocID:  e.DocID,
			Weight: e.Weight,
		})
	}
	return ix
}

// TermID returns the vocabulary ID for term.
func (ix *Index) TermID(term string) (uint32, bool) {
	id, ok := ix.termIDs[term]
	return id, ok
}

// Postings returns the posting list for a term ID in ascending DocID
// order, or nil when no document contains the term.
func (ix *Index) Postings(termID uint32) []Posting {
	return ix.postings[termID]
}

// Document returns the document table row for id.
func (ix *Index) Document(id uint32) (DocumentInfo, bool) {
	if int(id) >= len(ix.Documents) {
		return DocumentInfo{}, false
	}
	return ix.Documents[id], true
}

// DocCount returns the number of indexed documents.
func (ix *Index) DocCount() int {
	return len(ix.Documents)
}

// VocabularySize returns the number of distinct terms.
func (ix *Index) VocabularySize() int {
	return len(ix.Terms)
}

// EntryCount returns the number of non-zero matrix cells.
func (ix *Index) EntryCount() int {
	return len(ix.Entries)
}

// CorpusBytes returns the combined raw size of all indexed documents.
func (ix *Index) CorpusBytes() int64 {
	var total int64
	for _, doc := range ix.Documents {
		total += doc.Size
	}
	return total
}
