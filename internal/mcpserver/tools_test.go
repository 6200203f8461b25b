package mcpserver

import (
	"context"
	"errors"
	"testing"

	"github.com/miounet11/mySillyTavern-sub001/internal/generate"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/prompt"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
	"github.com/miounet11/mySillyTavern-sub001/internal/worldinfo"
)

type mockStore struct {
	lore      []store.LoreRecord
	summaries []model.ChatSummary
	err       error

	lastCharacterID string
	lastChatID      string
}

func (m *mockStore) ListLore(ctx context.Context, characterID string) ([]store.LoreRecord, error) {
	m.lastCharacterID = characterID
	return m.lore, m.err
}

func (m *mockStore) ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error) {
	m.lastChatID = chatID
	return m.summaries, m.err
}

type mockPreviewer struct {
	prepared *generate.Prepared
	err      error

	lastChatID  string
	lastMessage string
}

func (m *mockPreviewer) Preview(ctx context.Context, chatID, content string) (*generate.Prepared, error) {
	m.lastChatID = chatID
	m.lastMessage = content
	return m.prepared, m.err
}

func testOptions() Options {
	return Options{
		Budget: model.ContextBudget{
			MaxContextTokens:    4096,
			ReserveTokens:       512,
			MaxActivatedEntries: 10,
			MaxTotalTokens:      1000,
			MaxRecursionDepth:   2,
			VectorThreshold:     0.7,
		},
		Activation: worldinfo.Options{EnableRecursive: true, ScanDepth: 4},
	}
}

func loreRecord(id string, priority int, keywords []string, content string) store.LoreRecord {
	return store.LoreRecord{Entry: model.LoreEntry{ID: id, Keywords: keywords, Content: content, Priority: priority, Enabled: true}}
}

func TestActivateLore(t *testing.T) {
	db := &mockStore{lore: []store.LoreRecord{
		loreRecord("castle", 50, []string{"castle"}, "The castle of Dunmar has a hidden vault."),
		loreRecord("vault", 70, []string{"vault"}, "The vault holds the crown."),
		loreRecord("sea", 90, []string{"sea"}, "The sea is cold."),
	}}
	server := NewServer(db, nil, nil, testOptions(), "test", nil)

	_, output, err := server.handleActivateLore(context.Background(), nil, ActivateLoreInput{CharacterID: "c1", Message: "We reach the castle"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.lastCharacterID != "c1" {
		t.Fatalf("unexpected character id %q", db.lastCharacterID)
	}
	if len(output.Entries) != 2 {
		t.Fatalf("expected castle and recursive vault, got %+v", output.Entries)
	}
	if output.Entries[0].ID != "vault" || output.Entries[0].MatchKind != "recursive" || output.Entries[0].RecursionDepth != 1 {
		t.Fatalf("unexpected first entry: %+v", output.Entries[0])
	}
	if output.Entries[1].ID != "castle" || output.Entries[1].MatchedKeyword != "castle" {
		t.Fatalf("unexpected second entry: %+v", output.Entries[1])
	}
	if output.TotalTokens != output.Entries[0].EstimatedTokens+output.Entries[1].EstimatedTokens {
		t.Fatalf("unexpected total tokens %d", output.TotalTokens)
	}
}

func TestActivateLore_Errors(t *testing.T) {
	server := NewServer(&mockStore{}, nil, nil, testOptions(), "test", nil)
	if _, _, err := server.handleActivateLore(context.Background(), nil, ActivateLoreInput{}); err == nil {
		t.Fatalf("expected error for empty message")
	}

	server = NewServer(&mockStore{err: errors.New("db down")}, nil, nil, testOptions(), "test", nil)
	if _, _, err := server.handleActivateLore(context.Background(), nil, ActivateLoreInput{Message: "hi"}); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestPreviewPrompt(t *testing.T) {
	previewer := &mockPreviewer{prepared: &generate.Prepared{
		HistoryStart: 3,
		Prompt: &prompt.Result{
			Messages: model.AssembledContext{
				{Role: model.RoleSystem, Content: "You are Aria.", Source: model.SourceSystem},
				{Role: model.RoleUser, Content: "hello", Source: model.SourceMessage},
			},
			TotalTokens:    8,
			DroppedHistory: 1,
		},
	}}
	server := NewServer(&mockStore{}, previewer, nil, testOptions(), "test", nil)

	_, output, err := server.handlePreviewPrompt(context.Background(), nil, PreviewPromptInput{ChatID: "chat-1", Message: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if previewer.lastChatID != "chat-1" || previewer.lastMessage != "hello" {
		t.Fatalf("unexpected preview params")
	}
	if len(output.Messages) != 2 || output.Messages[0].Source != "system" || output.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", output.Messages)
	}
	if output.TotalTokens != 8 || output.DroppedHistory != 1 || output.HistoryStart != 3 {
		t.Fatalf("unexpected preview output: %+v", output)
	}
}

func TestPreviewPrompt_Errors(t *testing.T) {
	server := NewServer(&mockStore{}, nil, nil, testOptions(), "test", nil)
	if _, _, err := server.handlePreviewPrompt(context.Background(), nil, PreviewPromptInput{}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
	if _, _, err := server.handlePreviewPrompt(context.Background(), nil, PreviewPromptInput{ChatID: "c"}); err == nil {
		t.Fatalf("expected error without previewer")
	}

	server = NewServer(&mockStore{}, &mockPreviewer{err: store.ErrNotFound}, nil, testOptions(), "test", nil)
	_, _, err := server.handlePreviewPrompt(context.Background(), nil, PreviewPromptInput{ChatID: "c", Message: "hi"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetSummaries(t *testing.T) {
	db := &mockStore{summaries: []model.ChatSummary{
		{FromMessage: 1, ToMessage: 50, Summary: "first"},
		{FromMessage: 51, ToMessage: 100, Summary: "second"},
	}}
	server := NewServer(db, nil, nil, testOptions(), "test", nil)

	_, output, err := server.handleGetSummaries(context.Background(), nil, GetSummariesInput{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.lastChatID != "chat-1" || len(output.Summaries) != 2 {
		t.Fatalf("unexpected output: %+v", output)
	}
	if output.Text != "[Messages 1-50] first\n\n[Messages 51-100] second" {
		t.Fatalf("unexpected text %q", output.Text)
	}

	_, output, err = server.handleGetSummaries(context.Background(), nil, GetSummariesInput{ChatID: "chat-1", From: 40})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Summaries) != 1 || output.Summaries[0].From != 51 {
		t.Fatalf("unexpected ranged output: %+v", output.Summaries)
	}

	if _, _, err := server.handleGetSummaries(context.Background(), nil, GetSummariesInput{}); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}
