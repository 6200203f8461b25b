// Package summary compresses older chat history into stored summaries.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/llm"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
)

const (
	aiTemperature = 0.3
	aiMaxTokens   = 200

	instruction = "Summarize the following conversation in 2-3 sentences. " +
		"Keep names, decisions and unresolved threads. Reply with the summary only."
)

// Store is the subset of store.Store the service needs.
type Store interface {
	CountMessages(ctx context.Context, chatID string) (int, error)
	ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessage, error)
	CreateSummary(ctx context.Context, s *model.ChatSummary) error
	LatestSummary(ctx context.Context, chatID string) (*model.ChatSummary, error)
	ListSummaries(ctx context.Context, chatID string) ([]model.ChatSummary, error)
}

// Service creates and reads chat summaries.
type Service struct {
	store  Store
	client llm.Client
	log    *zap.Logger
	locks  keyedMutex
}

// NewService creates a service. client may be nil, in which case every
// summary uses the statistical fallback.
func NewService(st Store, client llm.Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, client: client, log: log.Named("summary")}
}

// AutoSummarize stores one summary when at least interval messages have
// accumulated since the last one. The summary covers the interval messages
// following the last summarised one, so ranges stay contiguous.
func (s *Service) AutoSummarize(ctx context.Context, chatID string, interval int) error {
	if interval < 1 {
		return fmt.Errorf("summary interval must be positive, got %d", interval)
	}
	unlock := s.locks.lock(chatID)
	defer unlock()

	count, err := s.store.CountMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("auto summarize %s: %w", chatID, err)
	}
	lastTo, err := s.lastSummarized(ctx, chatID)
	if err != nil {
		return fmt.Errorf("auto summarize %s: %w", chatID, err)
	}
	if count-lastTo < interval {
		return nil
	}

	msgs, err := s.store.ListMessages(ctx, chatID, lastTo, interval)
	if err != nil {
		return fmt.Errorf("auto summarize %s: %w", chatID, err)
	}
	if len(msgs) == 0 {
		return nil
	}

	sum := &model.ChatSummary{
		ChatID:      chatID,
		FromMessage: lastTo + 1,
		ToMessage:   lastTo + len(msgs),
		Summary:     s.generate(ctx, chatID, msgs),
	}
	if err := s.store.CreateSummary(ctx, sum); err != nil {
		if errors.Is(err, store.ErrSummaryExists) {
			s.log.Debug("summary already stored", zap.String("chat_id", chatID), zap.Int("from", sum.FromMessage))
			return nil
		}
		return fmt.Errorf("auto summarize %s: %w", chatID, err)
	}
	s.log.Info("summary stored",
		zap.String("chat_id", chatID),
		zap.Int("from", sum.FromMessage),
		zap.Int("to", sum.ToMessage),
		zap.Int("pending", count-sum.ToMessage))
	return nil
}

func (s *Service) lastSummarized(ctx context.Context, chatID string) (int, error) {
	latest, err := s.store.LatestSummary(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.ToMessage, nil
}

// generate asks the model for a summary and falls back to the statistical
// description on any failure.
func (s *Service) generate(ctx context.Context, chatID string, msgs []model.ChatMessage) string {
	if s.client == nil {
		return statistical(msgs)
	}
	prompt := []model.PromptMessage{
		{Role: model.RoleSystem, Content: instruction, Source: model.SourceSystem},
		{Role: model.RoleUser, Content: transcript(msgs), Source: model.SourceMessage},
	}
	resp, err := s.client.Generate(ctx, prompt, llm.Options{Temperature: aiTemperature, MaxTokens: aiMaxTokens})
	if err != nil {
		s.log.Warn("model summary failed, using fallback", zap.String("chat_id", chatID), zap.Error(err))
		return statistical(msgs)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		s.log.Warn("model summary empty, using fallback", zap.String("chat_id", chatID))
		return statistical(msgs)
	}
	return text
}

// AllSummaries renders every summary of the chat, oldest first.
func (s *Service) AllSummaries(ctx context.Context, chatID string) (string, error) {
	all, err := s.store.ListSummaries(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("list summaries %s: %w", chatID, err)
	}
	return model.FormatSummaries(all), nil
}

// SummaryForRange renders the summaries fully inside [from, to]. The bool
// is false when there are none.
func (s *Service) SummaryForRange(ctx context.Context, chatID string, from, to int) (string, bool, error) {
	all, err := s.store.ListSummaries(ctx, chatID)
	if err != nil {
		return "", false, fmt.Errorf("list summaries %s: %w", chatID, err)
	}
	text := model.FormatSummaries(model.SummariesInRange(all, from, to))
	return text, text != "", nil
}
