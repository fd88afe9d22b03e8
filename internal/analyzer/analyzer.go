// Package analyzer provides text normalisation for the search engine.
// It lower-cases input, splits on non-word boundaries, and optionally
// removes stop-words and applies Snowball stemming. The same analyzer
// must be used for documents at index time and for queries at search
// time so that both sides of a lookup agree on the vocabulary.
package analyzer

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"

	"github.com/velsin/docsearch/pkg/config"
)

// Analyzer turns raw text into a stream of normalised terms.
type Analyzer struct {
	minTokenLength int
	stopWords      bool
	stemming       bool
}

// New creates an Analyzer from configuration.
func New(cfg config.AnalyzerConfig) *Analyzer {
	minLen := cfg.MinTokenLength
	if minLen < 1 {
		minLen = 1
	}
	return &Analyzer{
		minTokenLength: minLen,
		stopWords:      cfg.StopWords,
		stemming:       cfg.Stemming,
	}
}

// Analyze breaks text into lowercased terms. A term is a maximal run of
// letters, digits, and underscores. Terms shorter than the configured
// minimum, and stop-words when filtering is enabled, are dropped.
func (a *Analyzer) Analyze(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) < a.minTokenLength {
			continue
		}
		if a.stopWords {
			if _, isStop := englishStopWords[word]; isStop {
				continue
			}
		}
		if a.stemming {
			word = english.Stem(word, true)
			if word == "" {
				continue
			}
		}
		terms = append(terms, word)
	}
	return terms
}

// TermCounts returns the term-frequency multiset of text: each distinct
// term mapped to its number of occurrences.
func (a *Analyzer) TermCounts(text string) map[string]int {
	terms := a.Analyze(text)
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	return counts
}

// UniqueTerms returns the distinct terms of text in first-seen order.
// Duplicate query terms must not score a document twice.
func (a *Analyzer) UniqueTerms(text string) []string {
	terms := a.Analyze(text)
	seen := make(map[string]struct{}, len(terms))
	unique := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		unique = append(unique, term)
	}
	return unique
}
