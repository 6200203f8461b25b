package worldinfo

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

// matchKeyword returns the first keyword of entry found in text, honouring
// the entry's case and whole-word flags.
func matchKeyword(entry *model.LoreEntry, text, lowered string) (string, bool) {
	for _, kw := range entry.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		haystack, needle := text, kw
		if !entry.CaseSensitive {
			haystack, needle = lowered, strings.ToLower(kw)
		}
		if containsKeyword(haystack, needle, entry.MatchWholeWords) {
			return kw, true
		}
	}
	return "", false
}

func containsKeyword(haystack, needle string, wholeWords bool) bool {
	if !wholeWords {
		return strings.Contains(haystack, needle)
	}
	offset := 0
	for {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)
		if atBoundary(haystack, start, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(haystack[start:])
		offset = start + size
	}
}

// atBoundary reports whether haystack[start:end] is delimited by non-word runes.
func atBoundary(haystack string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(haystack[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(haystack) {
		r, _ := utf8.DecodeRuneInString(haystack[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// scanText joins the new message with the last depth history messages.
func scanText(message string, history []model.ChatMessage, depth int) string {
	depth = min(max(depth, 0), len(history))
	var sb strings.Builder
	for _, m := range history[len(history)-depth:] {
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString(message)
	return sb.String()
}
