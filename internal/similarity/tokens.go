package similarity

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

var tokenizer = unicode.NewUnicodeTokenizer()

// stopwords are filtered out of sim_tok's identifier/keyword/numeric/
// string token set; they carry no discriminating signal between units.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "this": true, "that": true,
}

// structuralKeywords are the control-flow and declaration keywords whose
// multiset overlap defines sim_struct.
var structuralKeywords = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "switch": true,
	"case": true, "try": true, "catch": true, "finally": true,
	"function": true, "func": true, "class": true, "interface": true,
	"enum": true, "type": true, "def": true, "struct": true,
}

// structuralPunctuation is scanned directly over the source text, since
// bleve's tokenizer discards punctuation as non-word boundaries.
var structuralPunctuation = []rune{'{', '}', '(', ')', ';', ','}

// TokenSet extracts the lowercased, stopword-filtered identifier/
// keyword/numeric/string token multiset used by sim_tok.
func TokenSet(normalizedText string) map[string]int {
	stream := tokenizer.Tokenize([]byte(normalizedText))
	out := make(map[string]int, len(stream))
	for _, tok := range stream {
		term := strings.ToLower(string(tok.Term))
		if term == "" || stopwords[term] {
			continue
		}
		out[term]++
	}
	return out
}

// StructuralTokens extracts the multiset of control-flow keywords,
// declaration keywords, and structural punctuation from text.
func StructuralTokens(text string) map[string]int {
	out := make(map[string]int)
	stream := tokenizer.Tokenize([]byte(text))
	for _, tok := range stream {
		term := strings.ToLower(string(tok.Term))
		if structuralKeywords[term] {
			out[term]++
		}
	}
	for _, r := range text {
		for _, p := range structuralPunctuation {
			if r == p {
				out[string(p)]++
			}
		}
	}
	return out
}

// jaccardMultiset computes Jaccard similarity over two token multisets,
// treating each distinct token's overlap count as min(countA, countB)
// and its union count as max(countA, countB).
func jaccardMultiset(a, b map[string]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(a)+len(b))
	var intersection, union int
	for term, ca := range a {
		cb := b[term]
		intersection += minInt(ca, cb)
		union += maxInt(ca, cb)
		seen[term] = true
	}
	for term, cb := range b {
		if seen[term] {
			continue
		}
		union += cb
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
