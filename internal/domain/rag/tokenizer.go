package rag

import (
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// TokenFilter rewrites or drops a token after stop-word removal. Returning
// "" drops it. This is where a stemmer plugs in.
type TokenFilter func(token string) string

// Tokenizer produces keyword index terms: lowercase, split on anything that
// is not a letter or digit, drop stop words, then apply filters.
type Tokenizer struct {
	stopWords map[string]struct{}
	filters   []TokenFilter
}

// DefaultStopWords is a small English stop-word list.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in",
	"into", "is", "it", "no", "not", "of", "on", "or", "such", "that", "the",
	"their", "then", "there", "these", "they", "this", "to", "was", "will", "with",
}

// NewTokenizer creates a tokenizer. A nil stopWords uses DefaultStopWords;
// an empty non-nil slice disables stop-word removal.
func NewTokenizer(stopWords []string, filters ...TokenFilter) *Tokenizer {
	if stopWords == nil {
		stopWords = DefaultStopWords
	}
	set := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			set[w] = struct{}{}
		}
	}
	return &Tokenizer{stopWords: set, filters: filters}
}

// Tokens returns the terms of text in order, duplicates included.
func (t *Tokenizer) Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if _, stop := t.stopWords[f]; stop {
			continue
		}
		for _, filter := range t.filters {
			if f = filter(f); f == "" {
				break
			}
		}
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// TermFrequencies counts the terms of text.
func (t *Tokenizer) TermFrequencies(text string) map[string]int {
	return lo.CountValues(t.Tokens(text))
}

// UniqueTerms returns the distinct terms of text in first-seen order.
func (t *Tokenizer) UniqueTerms(text string) []string {
	return lo.Uniq(t.Tokens(text))
}
