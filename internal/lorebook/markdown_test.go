package lorebook

import (
	"strings"
	"testing"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/tokens"
)

func TestParseMarkdown_Empty(t *testing.T) {
	entries, err := ParseMarkdown(nil, "", MarkdownOptions{})
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
}

func TestParseMarkdown_Sections(t *testing.T) {
	text := `Preamble that is ignored.

# Dunmar, castle

The castle of Dunmar guards the northern pass.

## Rowan

A knight sworn to the crown.

# Empty
`
	entries, err := ParseMarkdown([]byte(text), "aria", MarkdownOptions{Priority: 70, Position: model.PositionBeforeMessage})
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}

	dunmar := entries[0]
	if dunmar.ID != "dunmar" {
		t.Errorf("expected id dunmar, got %q", dunmar.ID)
	}
	if len(dunmar.Keywords) != 2 || dunmar.Keywords[0] != "Dunmar" || dunmar.Keywords[1] != "castle" {
		t.Errorf("unexpected keywords: %q", dunmar.Keywords)
	}
	if dunmar.Content != "The castle of Dunmar guards the northern pass." {
		t.Errorf("unexpected content: %q", dunmar.Content)
	}
	if dunmar.CharacterID != "aria" || dunmar.Priority != 70 || dunmar.Position != model.PositionBeforeMessage || !dunmar.Enabled {
		t.Errorf("unexpected options: %+v", dunmar)
	}
	if entries[1].ID != "rowan" || entries[1].Content != "A knight sworn to the crown." {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestParseMarkdown_SplitsLongSections(t *testing.T) {
	para := strings.Repeat("The river runs cold. ", 10) // ~210 chars
	text := "# River\n\n" + para + "\n\n" + para + "\n\n" + para

	entries, err := ParseMarkdown([]byte(text), "", MarkdownOptions{MaxTokens: 60})
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("expected at least 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if got := tokens.Estimate(e.Content); got > 60 {
			t.Errorf("entry %d has %d tokens", i, got)
		}
		if len(e.Keywords) != 1 || e.Keywords[0] != "River" {
			t.Errorf("entry %d lost keywords: %q", i, e.Keywords)
		}
	}
	if entries[0].ID != "river.1" || entries[1].ID != "river.2" {
		t.Errorf("unexpected ids: %q %q", entries[0].ID, entries[1].ID)
	}
}

func TestParseMarkdown_MergesShortParagraphs(t *testing.T) {
	text := "# Sea\n\nCold.\n\nGrey.\n\nDeep."
	entries, err := ParseMarkdown([]byte(text), "", MarkdownOptions{})
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "Cold.\n\nGrey.\n\nDeep." {
		t.Errorf("expected one merged entry, got %+v", entries)
	}
}

func TestParseMarkdown_HardSplitsOneParagraph(t *testing.T) {
	text := "# Wall\n" + strings.Repeat("stone ", 100)
	entries, err := ParseMarkdown([]byte(text), "", MarkdownOptions{MaxTokens: 20})
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected several entries, got %d", len(entries))
	}
	var words int
	for _, e := range entries {
		words += len(strings.Fields(e.Content))
	}
	if words != 100 {
		t.Errorf("expected every word kept, got %d", words)
	}
}

func TestParseMarkdown_DuplicateHeadings(t *testing.T) {
	text := "# Gate\nNorth gate.\n# Gate\nSouth gate."
	entries, err := ParseMarkdown([]byte(text), "", MarkdownOptions{})
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "gate" || entries[1].ID != "gate-2" {
		t.Errorf("unexpected ids: %+v", entries)
	}
}

func TestParseMarkdown_HeadingWithoutKeywords(t *testing.T) {
	if _, err := ParseMarkdown([]byte("# , ,\nbody"), "", MarkdownOptions{}); err == nil {
		t.Error("expected error")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Dunmar":          "dunmar",
		"Old  Road!":      "old-road",
		"Élan vital":      "élan-vital",
		"  -- ":           "",
		"King's Landing ": "king-s-landing",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
