package lorebook

import (
	"testing"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

func TestParseYAML(t *testing.T) {
	data := []byte(`
character_id: aria
entries:
  - id: castle
    keywords: [castle, " fortress ", ""]
    content: "  The castle of Dunmar.  "
    priority: 60
    position: at_depth
    depth: 2
  - keywords: [realm]
    content: The realm is old.
    character_id: ""
    enabled: false
`)
	entries, err := ParseYAML(data, "")
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	castle := entries[0]
	if castle.ID != "castle" || castle.CharacterID != "aria" || castle.Priority != 60 {
		t.Errorf("unexpected castle entry: %+v", castle)
	}
	if castle.Position != model.PositionAtDepth || castle.Depth != 2 {
		t.Errorf("expected at_depth 2, got %v %d", castle.Position, castle.Depth)
	}
	if len(castle.Keywords) != 2 || castle.Keywords[1] != "fortress" {
		t.Errorf("unexpected keywords: %q", castle.Keywords)
	}
	if castle.Content != "The castle of Dunmar." || !castle.Enabled {
		t.Errorf("unexpected content or enabled: %+v", castle)
	}

	realm := entries[1]
	if realm.ID == "" {
		t.Error("expected generated id")
	}
	if realm.CharacterID != "" {
		t.Errorf("expected global entry, got %q", realm.CharacterID)
	}
	if realm.Enabled || realm.Priority != DefaultPriority || realm.Position != model.PositionBeforeHistory {
		t.Errorf("unexpected defaults: %+v", realm)
	}
}

func TestParseYAML_CharacterOverride(t *testing.T) {
	entries, err := ParseYAML([]byte("entries:\n  - {id: a, keywords: [x], content: y}\n"), "rowan")
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if entries[0].CharacterID != "rowan" {
		t.Errorf("expected override, got %q", entries[0].CharacterID)
	}
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "entries: [\n"},
		{"no content", "entries:\n  - {keywords: [x]}\n"},
		{"no keywords", "entries:\n  - {content: y}\n"},
		{"priority range", "entries:\n  - {keywords: [x], content: y, priority: 101}\n"},
		{"negative depth", "entries:\n  - {keywords: [x], content: y, depth: -1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseYAML([]byte(tt.data), ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_PicksFormat(t *testing.T) {
	entries, err := Parse("book.MD", []byte("# Dragon\nBreathes fire."), "")
	if err != nil {
		t.Fatalf("Parse markdown: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "dragon" {
		t.Fatalf("unexpected markdown entries: %+v", entries)
	}

	entries, err = Parse("", []byte("entries:\n  - {id: a, keywords: [x], content: y}\n"), "")
	if err != nil {
		t.Fatalf("Parse yaml: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "a" {
		t.Fatalf("unexpected yaml entries: %+v", entries)
	}
}

func TestSplitKeywords(t *testing.T) {
	got := SplitKeywords(" dragon, ,wyrm ,")
	if len(got) != 2 || got[0] != "dragon" || got[1] != "wyrm" {
		t.Errorf("unexpected keywords: %q", got)
	}
}
