package llm

import (
	"strings"
	"unicode/utf8"
)

// Tokenizer counts model tokens for a piece of text. The history optimizer
// uses it to decide how many messages to fold into a summary.
type Tokenizer interface {
	CountTokens(text string) int
}

// EstimatingTokenizer approximates token counts without a model-specific
// vocabulary. Counts are derived from word and rune counts, which tracks
// BPE tokenizers closely enough for budget enforcement.
type EstimatingTokenizer struct{}

// NewEstimatingTokenizer returns the default tokenizer.
func NewEstimatingTokenizer() *EstimatingTokenizer {
	return &EstimatingTokenizer{}
}

// CountTokens estimates the token count of text. English prose averages
// roughly 4 characters per token; whitespace-separated words add a floor so
// short words are not undercounted.
func (t *EstimatingTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	runes := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))

	byRunes := (runes + 3) / 4
	if words > byRunes {
		return words
	}
	return byRunes
}
