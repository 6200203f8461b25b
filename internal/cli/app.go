package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/cache"
	"github.com/miounet11/mySillyTavern-sub001/internal/config"
	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/generate"
	"github.com/miounet11/mySillyTavern-sub001/internal/llm"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
	"github.com/miounet11/mySillyTavern-sub001/internal/summary"
	"github.com/miounet11/mySillyTavern-sub001/internal/tasks"
)

const drainTimeout = 30 * time.Second

// app wires the services one command needs.
type app struct {
	store     store.Store
	client    llm.Client
	embedder  embedding.Embedder
	summaries *summary.Service
	tasks     *tasks.Queue
	turns     *generate.Orchestrator
}

// modelUse says whether a command talks to the chat model.
type modelUse int

const (
	modelNone modelUse = iota
	// modelOptional falls back to no client when no API key is configured.
	modelOptional
	modelRequired
)

// newApp opens the store and builds the pipeline.
func newApp(ctx context.Context, use modelUse) (*app, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{store: st}

	a.embedder, err = embedding.New(ctx, cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.URL, cfg.Embedding.APIKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if use != modelNone {
		a.client, err = newModelClient(ctx, cfg, use == modelOptional)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("model client: %w", err)
		}
	}

	a.summaries = summary.NewService(st, a.client, log)
	a.tasks = tasks.New(cfg.Tasks.Concurrency, cfg.Tasks.Timeout, log)
	a.turns = generate.New(generate.Deps{
		Store:      st,
		Client:     a.client,
		Embedder:   a.embedder,
		Summaries:  a.summaries,
		Tasks:      a.tasks,
		Characters: cache.New[string, *model.Character](cfg.Cache.TTL, cfg.Cache.MaxEntries),
		Lore:       cache.New[string, []store.LoreRecord](cfg.Cache.TTL, cfg.Cache.MaxEntries),
		Log:        log,
	}, generate.ConfigFrom(cfg))
	return a, nil
}

// Close drains background work, then closes the store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.tasks.Close(ctx); err != nil {
		log.Warn("background tasks abandoned", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		log.Warn("closing store", zap.Error(err))
	}
}

// newModelClient builds the configured chat model client. When optional is
// set, a missing API key yields a nil client instead of an error.
func newModelClient(ctx context.Context, c *config.Config, optional bool) (llm.Client, error) {
	client, err := llm.New(ctx, c.Model.Provider, c.Model.Model, c.Model.BaseURL, c.Model.APIKey, log)
	if optional && errors.Is(err, llm.ErrNoAPIKey) {
		log.Warn("no model api key configured, continuing without the model", zap.String("provider", c.Model.Provider))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
