package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizerTokens(t *testing.T) {
	tok := NewTokenizer(nil)

	assert.Equal(t,
		[]string{"quick", "brown", "fox", "jumps", "over", "lazy", "dog", "42"},
		tok.Tokens("The quick, brown FOX jumps over the lazy dog: 42!"))
	assert.Empty(t, tok.Tokens("  ...  "))
	assert.Equal(t, []string{"café", "naïve"}, tok.Tokens("Café/naïve"))
}

func TestTokenizerStopWords(t *testing.T) {
	custom := NewTokenizer([]string{" Foo ", "BAR"})
	assert.Equal(t, []string{"the", "baz"}, custom.Tokens("foo the bar baz"))

	none := NewTokenizer([]string{})
	assert.Equal(t, []string{"the", "and", "a"}, none.Tokens("the and a"))
}

func TestTokenizerFilters(t *testing.T) {
	trimS := func(s string) string { return strings.TrimSuffix(s, "s") }
	dropShort := func(s string) string {
		if len(s) < 3 {
			return ""
		}
		return s
	}
	tok := NewTokenizer(nil, trimS, dropShort)
	assert.Equal(t, []string{"apple", "pear"}, tok.Tokens("apples pears os"))
}

func TestTokenizerFrequenciesAndUniqueTerms(t *testing.T) {
	tok := NewTokenizer(nil)
	assert.Equal(t, map[string]int{"red": 2, "fish": 2, "blue": 1}, tok.TermFrequencies("red fish, blue fish, red"))
	assert.Equal(t, []string{"red", "fish", "blue"}, tok.UniqueTerms("red fish blue fish red"))
}
