// Package tokens estimates prompt sizes. Every budget decision in the prompt
// pipeline goes through Estimate so that packing stays deterministic.
package tokens

import (
	"strings"
	"unicode/utf8"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

// CharsPerToken is the length-to-token ratio of the estimator.
const CharsPerToken = 4

// Estimate approximates the token count of text as ceil(runes / 4).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessages sums Estimate over the message contents.
func EstimateMessages(msgs []model.PromptMessage) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content)
	}
	return total
}

// Truncate returns the longest prefix of text whose estimate is at most
// maxTokens. When a line break falls in the second half of the kept prefix
// the cut is moved back to it.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if Estimate(text) <= maxTokens {
		return text
	}
	limit := maxTokens * CharsPerToken
	cut := 0
	for i := range text {
		if limit == 0 {
			cut = i
			break
		}
		limit--
	}
	kept := text[:cut]
	if nl := strings.LastIndexByte(kept, '\n'); nl > len(kept)/2 {
		kept = kept[:nl]
	}
	return strings.TrimRight(kept, " \t\n")
}
