package lorebook

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

// book is the YAML format:
//
//	character_id: 01J...   # optional; empty means global
//	entries:
//	  - id: castle
//	    keywords: [castle, fortress]
//	    content: The castle of Dunmar...
//	    priority: 60
//	    position: at_depth
//	    depth: 2
type book struct {
	CharacterID string      `yaml:"character_id"`
	Entries     []bookEntry `yaml:"entries"`
}

type bookEntry struct {
	ID              string   `yaml:"id"`
	CharacterID     *string  `yaml:"character_id"`
	Keywords        []string `yaml:"keywords"`
	Content         string   `yaml:"content"`
	Priority        *int     `yaml:"priority"`
	Enabled         *bool    `yaml:"enabled"`
	CaseSensitive   bool     `yaml:"case_sensitive"`
	MatchWholeWords bool     `yaml:"match_whole_words"`
	Position        string   `yaml:"position"`
	Depth           int      `yaml:"depth"`
	Category        string   `yaml:"category"`
}

// ParseYAML decodes a YAML lorebook. characterID, when set, overrides the
// book-level character. Entries without an id get one.
func ParseYAML(data []byte, characterID string) ([]model.LoreEntry, error) {
	var b book
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse lorebook: %w", err)
	}
	if characterID != "" {
		b.CharacterID = characterID
	}

	entries := make([]model.LoreEntry, 0, len(b.Entries))
	for i, e := range b.Entries {
		entry := e.toEntry(b.CharacterID)
		if err := Validate(entry); err != nil {
			return nil, fmt.Errorf("lorebook entry %d: %w", i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e bookEntry) toEntry(bookCharacter string) model.LoreEntry {
	entry := model.LoreEntry{
		ID:              strings.TrimSpace(e.ID),
		CharacterID:     bookCharacter,
		Keywords:        cleanKeywords(e.Keywords),
		Content:         strings.TrimSpace(e.Content),
		Priority:        DefaultPriority,
		Enabled:         true,
		CaseSensitive:   e.CaseSensitive,
		MatchWholeWords: e.MatchWholeWords,
		Position:        model.ParsePosition(e.Position),
		Depth:           e.Depth,
		Category:        e.Category,
	}
	if e.CharacterID != nil {
		entry.CharacterID = *e.CharacterID
	}
	if e.Priority != nil {
		entry.Priority = *e.Priority
	}
	if e.Enabled != nil {
		entry.Enabled = *e.Enabled
	}
	if entry.ID == "" {
		entry.ID = newID()
	}
	return entry
}
