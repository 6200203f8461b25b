// Package generate runs one conversational turn end to end: load, activate
// lore, assemble the prompt, call the model, persist, and schedule
// background follow-ups.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miounet11/mySillyTavern-sub001/internal/cache"
	"github.com/miounet11/mySillyTavern-sub001/internal/config"
	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/llm"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/prompt"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
	"github.com/miounet11/mySillyTavern-sub001/internal/tasks"
	"github.com/miounet11/mySillyTavern-sub001/internal/worldinfo"
)

// ErrInvalidRequest marks requests rejected before any work starts.
var ErrInvalidRequest = errors.New("invalid request")

// Store is the subset of store.Store a turn touches.
type Store interface {
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	GetCharacter(ctx context.Context, id string) (*model.Character, error)
	AppendMessage(ctx context.Context, m *model.ChatMessage) error
	CountMessages(ctx context.Context, chatID string) (int, error)
	ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessage, error)
	SetMessageEmbedding(ctx context.Context, messageID string, v embedding.Vector) error
	ListLore(ctx context.Context, characterID string) ([]store.LoreRecord, error)
	ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error)
}

// Summarizer is satisfied by *summary.Service.
type Summarizer interface {
	AutoSummarize(ctx context.Context, chatID string, interval int) error
}

// Scheduler is satisfied by *tasks.Queue.
type Scheduler interface {
	Submit(name string, fn tasks.Func) error
}

// Config holds the per-turn settings.
type Config struct {
	Budget          model.ContextBudget
	Activation      worldinfo.Options
	SlidingWindow   int
	EnableSummary   bool
	SummaryInterval int
	AutoEmbedding   bool
	UserName        string
	Model           llm.Options
	FlushBytes      int
	FlushInterval   time.Duration
}

// ConfigFrom derives the turn settings from the loaded configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Budget:          c.Budget(),
		Activation:      c.ActivationOptions(),
		SlidingWindow:   c.Context.SlidingWindow,
		EnableSummary:   c.Summary.Enable,
		SummaryInterval: c.Summary.Interval,
		AutoEmbedding:   c.Embedding.Auto,
		UserName:        c.Context.UserName,
		Model: llm.Options{
			Model:            c.Model.Model,
			Temperature:      c.Model.Temperature,
			TopP:             c.Model.TopP,
			MaxTokens:        c.Model.MaxTokens,
			FrequencyPenalty: c.Model.FrequencyPenalty,
			PresencePenalty:  c.Model.PresencePenalty,
			Stop:             c.Model.Stop,
		},
		FlushBytes:    c.Stream.FlushBytes,
		FlushInterval: c.Stream.FlushInterval,
	}
}

// Deps are the collaborators of an Orchestrator. Client, Embedder,
// Summaries, Tasks and the caches may be nil.
type Deps struct {
	Store      Store
	Client     llm.Client
	Embedder   embedding.Embedder
	Summaries  Summarizer
	Tasks      Scheduler
	Characters *cache.TTL[string, *model.Character]
	Lore       *cache.TTL[string, []store.LoreRecord]
	Log        *zap.Logger
}

// Orchestrator runs chat turns. It is safe for concurrent use.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	engine  *worldinfo.Engine
	builder *prompt.Builder
	log     *zap.Logger
}

// New creates an orchestrator. Missing caches are replaced with disabled ones.
func New(deps Deps, cfg Config) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Characters == nil {
		deps.Characters = cache.New[string, *model.Character](0, 0)
	}
	if deps.Lore == nil {
		deps.Lore = cache.New[string, []store.LoreRecord](0, 0)
	}
	if cfg.SlidingWindow < 1 {
		cfg.SlidingWindow = 1
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		engine:  worldinfo.NewEngine(deps.Embedder, log),
		builder: prompt.NewBuilder(log),
		log:     log.Named("generate"),
	}
}

// TurnRequest is one user turn.
type TurnRequest struct {
	ChatID  string
	Content string
	// Stream delivers the answer incrementally to Sink.
	Stream bool
	Sink   func(string) error
}

// Prepared is the assembled prompt of a turn before the model call.
type Prepared struct {
	Chat         *model.Chat            `json:"chat"`
	Character    *model.Character       `json:"character"`
	Activated    []model.ActivatedEntry `json:"activated"`
	Prompt       *prompt.Result         `json:"prompt"`
	HistoryStart int                    `json:"history_start"`
	MessageCount int                    `json:"message_count"`
}

// TurnResult is the outcome of Generate.
type TurnResult struct {
	Prepared
	UserMessage      model.ChatMessage  `json:"user_message"`
	AssistantMessage *model.ChatMessage `json:"assistant_message,omitempty"`
	Response         *llm.Response      `json:"response,omitempty"`
	// Cancelled is set when the caller went away mid-stream; any partial
	// answer was still persisted.
	Cancelled bool `json:"cancelled"`
}

func (r TurnRequest) validate() error {
	if strings.TrimSpace(r.ChatID) == "" {
		return fmt.Errorf("%w: chat id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: message content is required", ErrInvalidRequest)
	}
	if r.Stream && r.Sink == nil {
		return fmt.Errorf("%w: streaming requires a sink", ErrInvalidRequest)
	}
	return nil
}

// Preview assembles the prompt for content without calling the model or
// persisting anything.
func (o *Orchestrator) Preview(ctx context.Context, chatID, content string) (*Prepared, error) {
	if err := (TurnRequest{ChatID: chatID, Content: content}).validate(); err != nil {
		return nil, err
	}
	if err := o.cfg.Budget.Validate(); err != nil {
		return nil, err
	}
	chat, err := o.deps.Store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading chat: %w", err)
	}
	return o.prepare(ctx, chat, content)
}

// Generate runs a full turn. Model failures are returned; embedding and
// summary work happens in the background and never affects the result.
func (o *Orchestrator) Generate(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := o.cfg.Budget.Validate(); err != nil {
		return nil, err
	}
	if o.deps.Client == nil {
		return nil, fmt.Errorf("generate: no model client configured")
	}
	chat, err := o.deps.Store.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("loading chat: %w", err)
	}

	prep, err := o.prepare(ctx, chat, req.Content)
	if err != nil {
		return nil, err
	}
	res := &TurnResult{Prepared: *prep}
	res.UserMessage = model.ChatMessage{ChatID: chat.ID, Role: model.RoleUser, Content: req.Content}
	if err := o.deps.Store.AppendMessage(ctx, &res.UserMessage); err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	start := time.Now()
	var resp *llm.Response
	if req.Stream {
		batcher := NewBatcher(req.Sink, o.cfg.FlushBytes, o.cfg.FlushInterval)
		resp, err = o.deps.Client.Stream(ctx, prep.Prompt.Messages, o.cfg.Model, batcher.Write)
		if flushErr := batcher.Close(); err == nil && flushErr != nil {
			err = flushErr
		}
	} else {
		resp, err = o.deps.Client.Generate(ctx, prep.Prompt.Messages, o.cfg.Model)
	}
	res.Response = resp

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Cancelled = true
		if resp != nil && strings.TrimSpace(resp.Content) != "" {
			// The caller is gone; save what was produced regardless.
			o.persistAssistant(context.WithoutCancel(ctx), res, resp.Content)
		}
		o.log.Info("turn cancelled",
			zap.String("chat_id", chat.ID),
			zap.Bool("partial_saved", res.AssistantMessage != nil),
			zap.Duration("elapsed", time.Since(start)))
		return res, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	if err := o.persistAssistant(ctx, res, resp.Content); err != nil {
		return nil, err
	}
	o.log.Info("turn complete",
		zap.String("chat_id", chat.ID),
		zap.Int("prompt_tokens", prep.Prompt.TotalTokens),
		zap.Int("activated", len(prep.Activated)),
		zap.Int("reply_chars", len(resp.Content)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (o *Orchestrator) persistAssistant(ctx context.Context, res *TurnResult, content string) error {
	msg := &model.ChatMessage{ChatID: res.Chat.ID, Role: model.RoleAssistant, Content: content}
	if err := o.deps.Store.AppendMessage(ctx, msg); err != nil {
		o.log.Error("saving assistant message failed", zap.String("chat_id", res.Chat.ID), zap.Error(err))
		return fmt.Errorf("saving assistant message: %w", err)
	}
	res.AssistantMessage = msg
	o.schedule(res.Chat.ID, *msg)
	return nil
}

// schedule queues the follow-up work for a stored assistant message.
func (o *Orchestrator) schedule(chatID string, msg model.ChatMessage) {
	if o.deps.Tasks == nil {
		return
	}
	if o.cfg.AutoEmbedding && o.deps.Embedder != nil {
		err := o.deps.Tasks.Submit("embed-message", func(ctx context.Context) error {
			v, err := o.deps.Embedder.Embed(ctx, msg.Content)
			if err != nil {
				return fmt.Errorf("embedding message %s: %w", msg.ID, err)
			}
			return o.deps.Store.SetMessageEmbedding(ctx, msg.ID, v)
		})
		if err != nil {
			o.log.Warn("embedding not scheduled", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	if o.cfg.EnableSummary && o.deps.Summaries != nil {
		interval := o.cfg.SummaryInterval
		err := o.deps.Tasks.Submit("auto-summarize", func(ctx context.Context) error {
			return o.deps.Summaries.AutoSummarize(ctx, chatID, interval)
		})
		if err != nil {
			o.log.Warn("summary not scheduled", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

// prepare loads everything a turn needs concurrently, then activates lore
// and assembles the prompt.
func (o *Orchestrator) prepare(ctx context.Context, chat *model.Chat, content string) (*Prepared, error) {
	var (
		character *model.Character
		count     int
		skip      int
		history   []model.ChatMessage
		lore      []store.LoreRecord
		summaries []model.ChatSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := o.deps.Characters.GetOrLoad(chat.CharacterID, func() (*model.Character, error) {
			return o.deps.Store.GetCharacter(gctx, chat.CharacterID)
		})
		if err != nil {
			return fmt.Errorf("loading character: %w", err)
		}
		character = c
		return nil
	})
	g.Go(func() error {
		n, err := o.deps.Store.CountMessages(gctx, chat.ID)
		if err != nil {
			return fmt.Errorf("counting messages: %w", err)
		}
		count = n
		skip = max(n-o.cfg.SlidingWindow, 0)
		history, err = o.deps.Store.ListMessages(gctx, chat.ID, skip, o.cfg.SlidingWindow)
		if err != nil {
			return fmt.Errorf("loading history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		recs, err := o.deps.Lore.GetOrLoad(chat.CharacterID, func() ([]store.LoreRecord, error) {
			return o.deps.Store.ListLore(gctx, chat.CharacterID)
		})
		if err != nil {
			return fmt.Errorf("loading lore: %w", err)
		}
		lore = recs
		return nil
	})
	if o.cfg.EnableSummary {
		g.Go(func() error {
			s, err := o.deps.Store.ListSummaries(gctx, chat.ID)
			if err != nil {
				// Summaries only enrich the prompt.
				o.log.Warn("loading summaries failed", zap.String("chat_id", chat.ID), zap.Error(err))
				return nil
			}
			summaries = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]worldinfo.Candidate, len(lore))
	for i, r := range lore {
		candidates[i] = worldinfo.Candidate{Entry: r.Entry, Embedding: r.Embedding}
	}
	activated, err := o.engine.Activate(ctx, worldinfo.Request{
		ChatID:      chat.ID,
		CharacterID: chat.CharacterID,
		Message:     content,
		History:     history,
		Candidates:  candidates,
		Budget:      o.cfg.Budget,
		Options:     o.cfg.Activation,
	})
	if err != nil {
		return nil, err
	}

	built, err := o.builder.Build(prompt.Input{
		Character:     *character,
		History:       history,
		HistoryStart:  skip + 1,
		Activated:     activated,
		NewMessage:    content,
		Budget:        o.cfg.Budget,
		Summaries:     summaries,
		EnableSummary: o.cfg.EnableSummary,
		UserName:      o.cfg.UserName,
	})
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Chat:         chat,
		Character:    character,
		Activated:    activated,
		Prompt:       built,
		HistoryStart: skip + 1,
		MessageCount: count,
	}, nil
}
