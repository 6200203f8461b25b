package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedChat(t *testing.T, s *SQLiteStore) (*model.Character, *model.Chat) {
	t.Helper()
	ctx := context.Background()
	c := &model.Character{Name: "Aria", SystemPrompt: "You are Aria."}
	if err := s.CreateCharacter(ctx, c); err != nil {
		t.Fatalf("create character: %v", err)
	}
	chat := &model.Chat{CharacterID: c.ID, Title: "first"}
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c, chat
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{"sqlite:///var/lib/tavern.db", "/var/lib/tavern.db", false},
		{"sqlite://./tavern.db", "./tavern.db", false},
		{"sqlite://:memory:", ":memory:", false},
		{"sqlite://", "", true},
		{"postgres://localhost/db", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDSN(tt.dsn)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDSN(%q) error = %v, wantErr %v", tt.dsn, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestCharacterAndChat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c, chat := seedChat(t, s)

	if c.ID == "" || chat.ID == "" {
		t.Fatal("expected ids to be assigned")
	}
	got, err := s.GetCharacter(ctx, c.ID)
	if err != nil {
		t.Fatalf("get character: %v", err)
	}
	if got.Name != "Aria" || got.SystemPrompt != "You are Aria." {
		t.Errorf("unexpected character %+v", got)
	}
	gotChat, err := s.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if gotChat.CharacterID != c.ID {
		t.Errorf("expected character %s, got %s", c.ID, gotChat.CharacterID)
	}

	list, err := s.ListCharacters(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list characters: %v, %d", err, len(list))
	}

	if _, err := s.GetCharacter(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetChat(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChatRequiresCharacter(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateChat(context.Background(), &model.Chat{CharacterID: "nobody"})
	if err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestMessagesOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, chat := seedChat(t, s)

	for i := 1; i <= 7; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		if err := s.AppendMessage(ctx, &model.ChatMessage{ChatID: chat.ID, Role: role, Content: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := s.CountMessages(ctx, chat.ID)
	if err != nil || n != 7 {
		t.Fatalf("count = %d, %v", n, err)
	}

	page, err := s.ListMessages(ctx, chat.ID, 2, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 || page[0].Content != "msg 3" || page[2].Content != "msg 5" {
		t.Errorf("unexpected page %+v", page)
	}
	if page[1].Role != model.RoleAssistant {
		t.Errorf("expected assistant role, got %s", page[1].Role)
	}

	all, _ := s.ListMessages(ctx, chat.ID, 0, 0)
	if len(all) != 7 {
		t.Errorf("expected 7 messages, got %d", len(all))
	}
	tail, _ := s.ListMessages(ctx, chat.ID, 5, 10)
	if len(tail) != 2 {
		t.Errorf("expected 2 trailing messages, got %d", len(tail))
	}

	if err := s.SetMessageEmbedding(ctx, all[0].ID, embedding.Vector{1, 2}); err != nil {
		t.Errorf("set message embedding: %v", err)
	}
	if err := s.SetMessageEmbedding(ctx, "missing", embedding.Vector{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoreRoundTripAndGlobal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c, _ := seedChat(t, s)

	own := &model.LoreEntry{
		ID: "lore-a", CharacterID: c.ID, Keywords: []string{"dragon", "wyrm"}, Content: "Dragons sleep.",
		Priority: 80, Enabled: true, MatchWholeWords: true, Position: model.PositionAtDepth, Depth: 2, Category: "beasts",
	}
	global := &model.LoreEntry{ID: "lore-b", Keywords: []string{"realm"}, Content: "The realm.", Priority: 10, Enabled: true}
	other := &model.LoreEntry{ID: "lore-c", CharacterID: "someone-else", Keywords: []string{"x"}, Content: "x", Enabled: true}
	for _, e := range []*model.LoreEntry{own, global, other} {
		if err := s.PutLoreEntry(ctx, e); err != nil {
			t.Fatalf("put lore: %v", err)
		}
	}

	recs, err := s.ListLore(ctx, c.ID)
	if err != nil {
		t.Fatalf("list lore: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected own + global entries, got %d", len(recs))
	}
	got := recs[0].Entry
	if got.ID != "lore-a" || len(got.Keywords) != 2 || got.Keywords[1] != "wyrm" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Position != model.PositionAtDepth || got.Depth != 2 || !got.MatchWholeWords || got.CaseSensitive {
		t.Errorf("flags not preserved: %+v", got)
	}
	if recs[0].Embedding != nil {
		t.Error("expected no embedding yet")
	}

	if err := s.SetLoreEmbedding(ctx, "lore-a", embedding.Vector{0.5, -1}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}
	recs, _ = s.ListLore(ctx, c.ID)
	if v := recs[0].Embedding; len(v) != 2 || v[1] != -1 {
		t.Errorf("unexpected embedding %v", v)
	}

	// Same content keeps the embedding; new content drops it.
	own.Priority = 90
	s.PutLoreEntry(ctx, own)
	recs, _ = s.ListLore(ctx, c.ID)
	if recs[0].Entry.Priority != 90 || recs[0].Embedding == nil {
		t.Errorf("expected priority update with embedding kept, got %+v", recs[0])
	}
	own.Content = "Dragons wake."
	s.PutLoreEntry(ctx, own)
	recs, _ = s.ListLore(ctx, c.ID)
	if recs[0].Embedding != nil {
		t.Error("expected embedding cleared after content change")
	}

	if err := s.DeleteLoreEntry(ctx, "lore-b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteLoreEntry(ctx, "lore-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, chat := seedChat(t, s)

	if _, err := s.LatestSummary(ctx, chat.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, r := range [][2]int{{51, 100}, {1, 50}} {
		err := s.CreateSummary(ctx, &model.ChatSummary{ChatID: chat.ID, FromMessage: r[0], ToMessage: r[1], Summary: fmt.Sprintf("%d-%d", r[0], r[1])})
		if err != nil {
			t.Fatalf("create summary: %v", err)
		}
	}

	err := s.CreateSummary(ctx, &model.ChatSummary{ChatID: chat.ID, FromMessage: 1, ToMessage: 50, Summary: "dup"})
	if !errors.Is(err, ErrSummaryExists) {
		t.Errorf("expected ErrSummaryExists, got %v", err)
	}

	latest, err := s.LatestSummary(ctx, chat.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ToMessage != 100 {
		t.Errorf("expected latest to end at 100, got %d", latest.ToMessage)
	}

	all, _ := s.ListSummaries(ctx, chat.ID)
	if len(all) != 2 || all[0].FromMessage != 1 || all[1].Summary != "51-100" {
		t.Errorf("unexpected summaries %+v", all)
	}
}

func TestConcurrentSummaryInsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, chat := seedChat(t, s)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.CreateSummary(ctx, &model.ChatSummary{ChatID: chat.ID, FromMessage: 1, ToMessage: 50, Summary: "s"})
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrSummaryExists):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one insert to win, got %d", created)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c, chat := seedChat(t, s)
	s.AppendMessage(ctx, &model.ChatMessage{ChatID: chat.ID, Role: model.RoleUser, Content: "hi"})
	s.PutLoreEntry(ctx, &model.LoreEntry{ID: "l1", CharacterID: c.ID, Content: "x", Enabled: true})
	s.SetLoreEmbedding(ctx, "l1", embedding.Vector{1})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Characters != 1 || st.Chats != 1 || st.Messages != 1 || st.LoreEntries != 1 || st.Embedded != 1 || st.Summaries != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

type fakeResult struct {
	n   int64
	err error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestRequireInserted(t *testing.T) {
	sum := &model.ChatSummary{ChatID: "c1", FromMessage: 1}

	if err := requireInserted(fakeResult{n: 1}, sum); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if err := requireInserted(fakeResult{n: 0}, sum); !errors.Is(err, ErrSummaryExists) {
		t.Errorf("expected ErrSummaryExists, got %v", err)
	}

	driverErr := errors.New("driver gone")
	err := requireInserted(fakeResult{err: driverErr}, sum)
	if !errors.Is(err, driverErr) {
		t.Errorf("expected driver error, got %v", err)
	}
	if errors.Is(err, ErrSummaryExists) {
		t.Errorf("driver error reported as existing summary: %v", err)
	}
}
