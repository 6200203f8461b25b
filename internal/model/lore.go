// Package model defines the core chat, lore and prompt data types.
package model

import (
	"strings"
	"time"
)

// Position is the prompt slot a lore entry is inserted into.
type Position int

const (
	// PositionBeforeHistory places the entry after the system block, ahead of history.
	PositionBeforeHistory Position = 0
	// PositionAtDepth interleaves the entry Depth messages before the end of history.
	PositionAtDepth Position = 1
	// PositionBeforeMessage places the entry immediately before the new user message.
	PositionBeforeMessage Position = 2
)

// String returns the config/CLI spelling of the position.
func (p Position) String() string {
	switch p {
	case PositionAtDepth:
		return "at_depth"
	case PositionBeforeMessage:
		return "before_message"
	default:
		return "before_history"
	}
}

// ParsePosition parses a position name or its numeric form. Unknown values
// map to PositionBeforeHistory.
func ParsePosition(s string) Position {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "at_depth", "depth", "1":
		return PositionAtDepth
	case "before_message", "message", "2":
		return PositionBeforeMessage
	default:
		return PositionBeforeHistory
	}
}

// LoreEntry is a keyed block of background text ("world info").
// An empty CharacterID marks global lore shared by every character.
type LoreEntry struct {
	ID              string    `json:"id" yaml:"id"`
	CharacterID     string    `json:"character_id,omitempty" yaml:"character_id,omitempty"`
	Keywords        []string  `json:"keywords" yaml:"keywords"`
	Content         string    `json:"content" yaml:"content"`
	Priority        int       `json:"priority" yaml:"priority"`
	Enabled         bool      `json:"enabled" yaml:"enabled"`
	CaseSensitive   bool      `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
	MatchWholeWords bool      `json:"match_whole_words,omitempty" yaml:"match_whole_words,omitempty"`
	Position        Position  `json:"position" yaml:"position"`
	Depth           int       `json:"depth,omitempty" yaml:"depth,omitempty"`
	Category        string    `json:"category,omitempty" yaml:"category,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
}

// MinPriority and MaxPriority bound LoreEntry.Priority.
const (
	MinPriority = 0
	MaxPriority = 100
)

// MatchKind records how an entry was activated. The numeric order is the
// tie-break rank: direct keyword hits beat vector hits beat recursive hits.
type MatchKind int

const (
	MatchKeyword MatchKind = iota
	MatchVector
	MatchRecursive
)

func (k MatchKind) String() string {
	switch k {
	case MatchKeyword:
		return "keyword"
	case MatchVector:
		return "vector"
	case MatchRecursive:
		return "recursive"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ActivatedEntry is a lore entry selected for one turn, with provenance.
type ActivatedEntry struct {
	Entry           LoreEntry `json:"entry"`
	MatchKind       MatchKind `json:"match_kind"`
	RecursionDepth  int       `json:"recursion_depth"`
	EstimatedTokens int       `json:"estimated_tokens"`
	MatchedKeyword  string    `json:"matched_keyword,omitempty"`
	Similarity      float64   `json:"similarity,omitempty"`
}

// RankLess reports whether a sorts before b: priority desc, recursion depth
// asc, match kind asc, entry id asc.
func RankLess(a, b ActivatedEntry) bool {
	if a.Entry.Priority != b.Entry.Priority {
		return a.Entry.Priority > b.Entry.Priority
	}
	if a.RecursionDepth != b.RecursionDepth {
		return a.RecursionDepth < b.RecursionDepth
	}
	if a.MatchKind != b.MatchKind {
		return a.MatchKind < b.MatchKind
	}
	return a.Entry.ID < b.Entry.ID
}
