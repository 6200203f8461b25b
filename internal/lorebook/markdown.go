package lorebook

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/tokens"
)

// DefaultMaxTokens bounds the content of one markdown entry.
const DefaultMaxTokens = 150

// MarkdownOptions configures ParseMarkdown.
type MarkdownOptions struct {
	// MaxTokens splits longer sections into several entries sharing the
	// section's keywords. Zero means DefaultMaxTokens.
	MaxTokens int
	Priority  int
	Position  model.Position
}

// section is one heading and the text under it.
type section struct {
	heading   string
	body      string
	startLine int
}

// ParseMarkdown turns every heading section into lore. The heading is a
// comma-separated keyword list and the body is the content:
//
//	# Dunmar, castle
//	The castle of Dunmar guards the northern pass.
//
// Text before the first heading is ignored. Ids derive from the first
// keyword so re-importing the same file replaces its entries.
func ParseMarkdown(data []byte, characterID string, opts MarkdownOptions) ([]model.LoreEntry, error) {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}

	var entries []model.LoreEntry
	seen := make(map[string]int)
	for _, sec := range splitSections(string(data)) {
		keywords := SplitKeywords(sec.heading)
		if len(keywords) == 0 {
			return nil, fmt.Errorf("line %d: heading has no keywords", sec.startLine)
		}
		parts := splitContent(sec.body, opts.MaxTokens)
		if len(parts) == 0 {
			continue
		}

		base := slug(keywords[0])
		if base == "" {
			base = newID()
		}
		seen[base]++
		if seen[base] > 1 {
			base = fmt.Sprintf("%s-%d", base, seen[base])
		}
		for i, p := range parts {
			id := base
			if len(parts) > 1 {
				id = fmt.Sprintf("%s.%d", base, i+1)
			}
			e := model.LoreEntry{
				ID:          id,
				CharacterID: characterID,
				Keywords:    keywords,
				Content:     p,
				Priority:    opts.Priority,
				Enabled:     true,
				Position:    opts.Position,
			}
			if err := Validate(e); err != nil {
				return nil, fmt.Errorf("line %d: %w", sec.startLine, err)
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// splitSections splits text on heading lines.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	var current *section
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.body = strings.TrimSpace(strings.Join(body, "\n"))
		sections = append(sections, *current)
		body = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			current = &section{heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#")), startLine: i + 1}
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return sections
}

// splitContent breaks text into parts of at most maxTokens, on paragraph
// boundaries first, then lines, then words.
func splitContent(text string, maxTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if tokens.Estimate(text) <= maxTokens {
		return []string{text}
	}

	var parts []string
	var accum string
	flush := func() {
		if t := strings.TrimSpace(accum); t != "" {
			parts = append(parts, t)
		}
		accum = ""
	}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if tokens.Estimate(para) > maxTokens {
			flush()
			parts = append(parts, hardSplit(para, maxTokens)...)
			continue
		}
		combined := para
		if accum != "" {
			combined = accum + "\n\n" + para
		}
		if tokens.Estimate(combined) <= maxTokens {
			accum = combined
			continue
		}
		flush()
		accum = para
	}
	flush()
	return parts
}

// hardSplit breaks one oversized paragraph on word boundaries.
func hardSplit(text string, maxTokens int) []string {
	var parts []string
	var current []string
	for _, word := range strings.Fields(text) {
		next := strings.Join(append(current, word), " ")
		if tokens.Estimate(next) > maxTokens && len(current) > 0 {
			parts = append(parts, strings.Join(current, " "))
			current = nil
		}
		current = append(current, word)
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
