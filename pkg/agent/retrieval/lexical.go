package retrieval

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`\W+`)

func tokenize(text string) []string {
	parts := nonWord.Split(strings.ToLower(text), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// lexicalScore counts query tokens (with repeats) that occur anywhere in content.
func lexicalScore(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(content)
	if len(contentTokens) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(contentTokens))
	for _, tok := range contentTokens {
		set[tok] = struct{}{}
	}
	score := 0.0
	for _, tok := range queryTokens {
		if _, ok := set[tok]; ok {
			score++
		}
	}
	return score
}

// TermFrequency sums how often each query token occurs in text.
func TermFrequency(query, text string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	counts := map[string]int{}
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	score := 0
	for _, tok := range queryTokens {
		score += counts[tok]
	}
	return float64(score)
}
