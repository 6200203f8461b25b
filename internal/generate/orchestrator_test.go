package generate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miounet11/mySillyTavern-sub001/internal/cache"
	"github.com/miounet11/mySillyTavern-sub001/internal/config"
	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/llm"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
	"github.com/miounet11/mySillyTavern-sub001/internal/summary"
	"github.com/miounet11/mySillyTavern-sub001/internal/tasks"
)

// scriptedClient replays chunks; cancelAfter cancels the caller's context
// after that many chunks via the cancel hook.
type scriptedClient struct {
	chunks      []string
	err         error
	cancelAfter int
	cancel      context.CancelFunc
	calls       int
	lastPrompt  []model.PromptMessage
	lastOptions llm.Options
}

func (c *scriptedClient) Generate(ctx context.Context, msgs []model.PromptMessage, opts llm.Options) (*llm.Response, error) {
	c.calls++
	c.lastPrompt, c.lastOptions = msgs, opts
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: strings.Join(c.chunks, ""), FinishReason: "stop"}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, msgs []model.PromptMessage, opts llm.Options, onChunk llm.ChunkFunc) (*llm.Response, error) {
	c.calls++
	c.lastPrompt, c.lastOptions = msgs, opts
	var sb strings.Builder
	for i, ch := range c.chunks {
		if ctx.Err() != nil {
			return &llm.Response{Content: sb.String()}, ctx.Err()
		}
		sb.WriteString(ch)
		if err := onChunk(ch); err != nil {
			return &llm.Response{Content: sb.String()}, err
		}
		if c.cancel != nil && i+1 == c.cancelAfter {
			c.cancel()
		}
	}
	if ctx.Err() != nil {
		return &llm.Response{Content: sb.String()}, ctx.Err()
	}
	return &llm.Response{Content: sb.String(), FinishReason: "stop"}, c.err
}

// inlineTasks runs submitted work synchronously.
type inlineTasks struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (q *inlineTasks) Submit(name string, fn tasks.Func) error {
	err := fn(context.Background())
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.errs = append(q.errs, err)
	return nil
}

type fixedEmbedder struct{ v embedding.Vector }

func (e fixedEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) { return e.v, nil }
func (e fixedEmbedder) Dims() int                                                     { return len(e.v) }

type fixture struct {
	st     *store.SQLiteStore
	chatID string
	charID string
}

func newFixture(t *testing.T, history int) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := &model.Character{Name: "Aria", SystemPrompt: "You are {{char}}, guide of {{user}}."}
	require.NoError(t, st.CreateCharacter(ctx, c))
	chat := &model.Chat{CharacterID: c.ID}
	require.NoError(t, st.CreateChat(ctx, chat))
	for i := 1; i <= history; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		require.NoError(t, st.AppendMessage(ctx, &model.ChatMessage{ChatID: chat.ID, Role: role, Content: fmt.Sprintf("turn %d", i)}))
	}
	require.NoError(t, st.PutLoreEntry(ctx, &model.LoreEntry{
		ID: "dragon", CharacterID: c.ID, Keywords: []string{"dragon"}, Content: "Dragons guard the pass.", Priority: 80, Enabled: true,
	}))
	require.NoError(t, st.PutLoreEntry(ctx, &model.LoreEntry{
		ID: "realm", Keywords: []string{"realm"}, Content: "The realm is old.", Priority: 20, Enabled: true,
	}))
	return &fixture{st: st, chatID: chat.ID, charID: c.ID}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	c := config.Default()
	c.Summary.Interval = 4
	c.Context.SlidingWindow = 6
	c.Context.UserName = "Rowan"
	c.Stream.FlushBytes = 8
	c.Stream.FlushInterval = time.Hour
	require.NoError(t, c.Validate())
	return ConfigFrom(&c)
}

func TestGenerate_Batch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	client := &scriptedClient{chunks: []string{"The pass ", "is guarded."}}
	queue := &inlineTasks{}
	cfg := testConfig(t)
	cfg.AutoEmbedding = true
	o := New(Deps{
		Store:     f.st,
		Client:    client,
		Embedder:  fixedEmbedder{v: embedding.Vector{1, 0}},
		Summaries: summary.NewService(f.st, nil, nil),
		Tasks:     queue,
	}, cfg)

	res, err := o.Generate(ctx, TurnRequest{ChatID: f.chatID, Content: "Is the dragon awake in the realm?"})
	require.NoError(t, err)
	require.False(t, res.Cancelled)
	require.NotNil(t, res.AssistantMessage)
	assert.Equal(t, "The pass is guarded.", res.AssistantMessage.Content)

	require.Len(t, res.Activated, 2)
	assert.Equal(t, "dragon", res.Activated[0].Entry.ID)
	assert.Equal(t, "dragon", res.Activated[0].MatchedKeyword)

	msgs := client.lastPrompt
	assert.Equal(t, "You are Aria, guide of Rowan.", msgs[0].Content)
	assert.Equal(t, "Is the dragon awake in the realm?", msgs[len(msgs)-1].Content)
	assert.Equal(t, cfg.Model.Temperature, client.lastOptions.Temperature)

	// 3 seeded + user + assistant
	msgsStored, _ := f.st.ListMessages(ctx, f.chatID, 0, 0)
	require.Len(t, msgsStored, 5)
	assert.Equal(t, model.RoleUser, msgsStored[3].Role)
	assert.Equal(t, model.RoleAssistant, msgsStored[4].Role)

	assert.Equal(t, []string{"embed-message", "auto-summarize"}, queue.names)
	for _, e := range queue.errs {
		assert.NoError(t, e)
	}
	sums, _ := f.st.ListSummaries(ctx, f.chatID)
	require.Len(t, sums, 1, "five messages with interval four yields one summary")
	assert.Equal(t, 4, sums[0].ToMessage)
}

func TestGenerate_StreamBatchesChunks(t *testing.T) {
	f := newFixture(t, 0)
	client := &scriptedClient{chunks: []string{"Once ", "upon ", "a ", "time."}}
	o := New(Deps{Store: f.st, Client: client}, testConfig(t))

	var got []string
	res, err := o.Generate(context.Background(), TurnRequest{
		ChatID: f.chatID, Content: "Tell me a story", Stream: true,
		Sink: func(s string) error { got = append(got, s); return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time.", strings.Join(got, ""))
	assert.Less(t, len(got), 4, "chunks should be coalesced")
	assert.Equal(t, "Once upon a time.", res.AssistantMessage.Content)
}

func TestGenerate_CancelPersistsPartial(t *testing.T) {
	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &scriptedClient{chunks: []string{"The ", "dragon ", "stirs", "..."}, cancelAfter: 2, cancel: cancel}
	queue := &inlineTasks{}
	o := New(Deps{Store: f.st, Client: client, Tasks: queue, Summaries: summary.NewService(f.st, nil, nil)}, testConfig(t))

	res, err := o.Generate(ctx, TurnRequest{ChatID: f.chatID, Content: "What now?", Stream: true, Sink: func(string) error { return nil }})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	require.NotNil(t, res.AssistantMessage)
	assert.Equal(t, "The dragon ", res.AssistantMessage.Content)

	stored, _ := f.st.ListMessages(context.Background(), f.chatID, 0, 0)
	require.Len(t, stored, 2)
	assert.Equal(t, "The dragon ", stored[1].Content)
}

func TestGenerate_ModelFailureIsFatal(t *testing.T) {
	f := newFixture(t, 0)
	queue := &inlineTasks{}
	o := New(Deps{Store: f.st, Client: &scriptedClient{err: errors.New("503 overloaded")}, Tasks: queue}, testConfig(t))

	_, err := o.Generate(context.Background(), TurnRequest{ChatID: f.chatID, Content: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503 overloaded")
	assert.Empty(t, queue.names)
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t, 0)
	o := New(Deps{Store: f.st, Client: &scriptedClient{}}, testConfig(t))
	ctx := context.Background()

	for name, req := range map[string]TurnRequest{
		"no chat":        {Content: "hi"},
		"no content":     {ChatID: f.chatID, Content: "  "},
		"stream no sink": {ChatID: f.chatID, Content: "hi", Stream: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := o.Generate(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := o.Generate(ctx, TurnRequest{ChatID: "missing", Content: "hi"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	cfg := testConfig(t)
	cfg.Budget.ReserveTokens = cfg.Budget.MaxContextTokens + 1
	_, err = New(Deps{Store: f.st, Client: &scriptedClient{}}, cfg).Generate(ctx, TurnRequest{ChatID: f.chatID, Content: "hi"})
	assert.ErrorIs(t, err, model.ErrInvalidBudget)
}

func TestPreview_SlidingWindowAndSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	svc := summary.NewService(f.st, nil, nil)
	require.NoError(t, svc.AutoSummarize(ctx, f.chatID, 4))

	o := New(Deps{Store: f.st}, testConfig(t))
	prep, err := o.Preview(ctx, f.chatID, "And then?")
	require.NoError(t, err)

	assert.Equal(t, 10, prep.MessageCount)
	assert.Equal(t, 5, prep.HistoryStart, "window of six over ten messages starts at the fifth")
	assert.True(t, prep.Prompt.SummaryIncluded)

	var history []string
	for _, m := range prep.Prompt.Messages {
		if m.Source == model.SourceHistory {
			history = append(history, m.Content)
		}
	}
	assert.Equal(t, []string{"turn 5", "turn 6", "turn 7", "turn 8", "turn 9", "turn 10"}, history)

	n, _ := f.st.CountMessages(ctx, f.chatID)
	assert.Equal(t, 10, n, "preview must not persist")
}

func TestPrepare_UsesCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	chars := cache.New[string, *model.Character](time.Minute, 10)
	lore := cache.New[string, []store.LoreRecord](time.Minute, 10)
	o := New(Deps{Store: f.st, Characters: chars, Lore: lore}, testConfig(t))

	_, err := o.Preview(ctx, f.chatID, "dragon")
	require.NoError(t, err)
	_, ok := chars.Get(f.charID)
	assert.True(t, ok)
	recs, ok := lore.Get(f.charID)
	require.True(t, ok)
	assert.Len(t, recs, 2)

	// A cached lore list is reused even after the store changes.
	require.NoError(t, f.st.DeleteLoreEntry(ctx, "dragon"))
	prep, err := o.Preview(ctx, f.chatID, "dragon")
	require.NoError(t, err)
	require.Len(t, prep.Activated, 1)

	lore.Invalidate(f.charID)
	prep, err = o.Preview(ctx, f.chatID, "dragon")
	require.NoError(t, err)
	assert.Empty(t, prep.Activated)
}

func TestGenerate_WithQueue(t *testing.T) {
	f := newFixture(t, 3)
	q := tasks.New(2, time.Second, nil)
	o := New(Deps{Store: f.st, Client: &scriptedClient{chunks: []string{"ok"}}, Tasks: q, Summaries: summary.NewService(f.st, nil, nil)}, testConfig(t))

	_, err := o.Generate(context.Background(), TurnRequest{ChatID: f.chatID, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, q.Close(context.Background()))

	sums, _ := f.st.ListSummaries(context.Background(), f.chatID)
	assert.Len(t, sums, 1)
}
