package bm25

import (
	"regexp"
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
)

var wordPattern = regexp.MustCompile(`\w+`)

// stopWords is the fixed English stop-word list used by the tokenizer, per
// spec §4.4.
var stopWords = buildStopWordSet([]string{
	"a", "an", "and", "are", "as", "at", "be", "been", "but", "by",
	"for", "from", "has", "have", "he", "her", "hers", "him", "his",
	"i", "if", "in", "into", "is", "it", "its", "of", "on", "or",
	"our", "she", "so", "than", "that", "the", "their", "them", "then",
	"there", "these", "they", "this", "to", "was", "we", "were", "what",
	"when", "where", "which", "who", "will", "with", "you", "your",
})

func buildStopWordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Tokenize lowercases text, extracts \w+ runs, drops stop words, optionally
// applies Porter stemming, and drops tokens of length <= 1, per spec §4.4.
func Tokenize(text string, stem bool) []string {
	lowered := strings.ToLower(text)
	words := wordPattern.FindAllString(lowered, -1)

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if _, isStop := stopWords[w]; isStop {
			continue
		}
		if stem {
			w = porterstemmer.StemString(w)
		}
		if len(w) <= 1 {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}
