package budget

import (
	"unicode/utf8"

	"knowledge-agent-be/pkg/llm"
)

// EstimateTokens is a model-agnostic estimate of roughly four characters per token.
// It returns 0 for empty text and at least 1 otherwise.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// EstimateMessagesTokens sums the estimate over each message's role and content.
func EstimateMessagesTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Role)
		total += EstimateTokens(msg.Content)
	}
	return total
}

// ShortText truncates text to limit characters, ending with "..." when cut.
func ShortText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

// Truncate cuts text to at most limit characters without a marker.
func Truncate(text string, limit int) string {
	if limit < 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
