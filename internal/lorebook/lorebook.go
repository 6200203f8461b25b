// Package lorebook parses lore entries from YAML and markdown lorebooks.
package lorebook

import (
	"fmt"
	"strings"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
)

// DefaultPriority is used for entries that do not set one.
const DefaultPriority = 50

// Parse decodes a lorebook, picking the format from the file name.
// Names ending in .md or .markdown are markdown, anything else YAML.
func Parse(name string, data []byte, characterID string) ([]model.LoreEntry, error) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
		return ParseMarkdown(data, characterID, MarkdownOptions{})
	}
	return ParseYAML(data, characterID)
}

// Validate checks the fields every stored entry needs.
func Validate(e model.LoreEntry) error {
	switch {
	case strings.TrimSpace(e.Content) == "":
		return fmt.Errorf("content is required")
	case len(e.Keywords) == 0:
		return fmt.Errorf("at least one keyword is required")
	case e.Priority < model.MinPriority || e.Priority > model.MaxPriority:
		return fmt.Errorf("priority must be within [%d, %d], got %d", model.MinPriority, model.MaxPriority, e.Priority)
	case e.Depth < 0:
		return fmt.Errorf("depth must not be negative")
	}
	return nil
}

// SplitKeywords splits a comma-separated list, dropping blanks.
func SplitKeywords(s string) []string {
	return cleanKeywords(strings.Split(s, ","))
}

func cleanKeywords(in []string) []string {
	var out []string
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func newID() string {
	return store.NewID()
}
