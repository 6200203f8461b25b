package mcpserver

import (
	"context"
	"fmt"
	"math"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/worldinfo"
)

type ActivateLoreInput struct {
	CharacterID string   `json:"character_id,omitempty" jsonschema:"character whose lore is scanned; global lore is always included"`
	Message     string   `json:"message" jsonschema:"new user message"`
	History     []string `json:"history,omitempty" jsonschema:"recent messages, oldest first"`
}

type PreviewPromptInput struct {
	ChatID  string `json:"chat_id" jsonschema:"chat to assemble the prompt for"`
	Message string `json:"message" jsonschema:"new user message"`
}

type GetSummariesInput struct {
	ChatID string `json:"chat_id" jsonschema:"chat id"`
	From   int    `json:"from,omitempty" jsonschema:"first message ordinal, 1-based"`
	To     int    `json:"to,omitempty" jsonschema:"last message ordinal, inclusive"`
}

type ActivatedOutput struct {
	ID              string  `json:"id"`
	Content         string  `json:"content"`
	Priority        int     `json:"priority"`
	Position        string  `json:"position"`
	MatchKind       string  `json:"match_kind"`
	MatchedKeyword  string  `json:"matched_keyword,omitempty"`
	Similarity      float64 `json:"similarity,omitempty"`
	RecursionDepth  int     `json:"recursion_depth"`
	EstimatedTokens int     `json:"estimated_tokens"`
}

type ActivateLoreOutput struct {
	Entries     []ActivatedOutput `json:"entries"`
	TotalTokens int               `json:"total_tokens"`
}

type PromptMessageOutput struct {
	Role    string `json:"role"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

type PreviewPromptOutput struct {
	Messages        []PromptMessageOutput `json:"messages"`
	Activated       []ActivatedOutput     `json:"activated"`
	TotalTokens     int                   `json:"total_tokens"`
	DroppedHistory  int                   `json:"dropped_history"`
	DroppedEntries  int                   `json:"dropped_entries"`
	SummaryIncluded bool                  `json:"summary_included"`
	HistoryStart    int                   `json:"history_start"`
}

type SummaryOutput struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Summary string `json:"summary"`
}

type GetSummariesOutput struct {
	Summaries []SummaryOutput `json:"summaries"`
	Text      string          `json:"text"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "activate_lore",
		Description: "Select the lore entries a message would activate",
	}, s.handleActivateLore)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "preview_prompt",
		Description: "Assemble the prompt for a chat turn without calling the model",
	}, s.handlePreviewPrompt)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_summaries",
		Description: "Return the stored summaries of a chat",
	}, s.handleGetSummaries)
}

func (s *Server) handleActivateLore(ctx context.Context, req *sdk.CallToolRequest, input ActivateLoreInput) (*sdk.CallToolResult, ActivateLoreOutput, error) {
	if input.Message == "" {
		return nil, ActivateLoreOutput{}, fmt.Errorf("message is required")
	}
	recs, err := s.db.ListLore(ctx, input.CharacterID)
	if err != nil {
		return nil, ActivateLoreOutput{}, err
	}
	candidates := make([]worldinfo.Candidate, len(recs))
	for i, r := range recs {
		candidates[i] = worldinfo.Candidate{Entry: r.Entry, Embedding: r.Embedding}
	}
	history := make([]model.ChatMessage, len(input.History))
	for i, h := range input.History {
		history[i] = model.ChatMessage{Role: model.RoleUser, Content: h}
	}

	activated, err := s.engine.Activate(ctx, worldinfo.Request{
		CharacterID: input.CharacterID,
		Message:     input.Message,
		History:     history,
		Candidates:  candidates,
		Budget:      s.opts.Budget,
		Options:     s.opts.Activation,
	})
	if err != nil {
		return nil, ActivateLoreOutput{}, err
	}

	out := ActivateLoreOutput{Entries: activatedOutput(activated)}
	for _, a := range activated {
		out.TotalTokens += a.EstimatedTokens
	}
	s.log.Debug("activate_lore", zap.String("character_id", input.CharacterID), zap.Int("activated", len(activated)))
	return nil, out, nil
}

func (s *Server) handlePreviewPrompt(ctx context.Context, req *sdk.CallToolRequest, input PreviewPromptInput) (*sdk.CallToolResult, PreviewPromptOutput, error) {
	if input.ChatID == "" {
		return nil, PreviewPromptOutput{}, fmt.Errorf("chat_id is required")
	}
	if s.preview == nil {
		return nil, PreviewPromptOutput{}, fmt.Errorf("prompt preview is not available")
	}
	prep, err := s.preview.Preview(ctx, input.ChatID, input.Message)
	if err != nil {
		return nil, PreviewPromptOutput{}, err
	}

	out := PreviewPromptOutput{
		Messages:        make([]PromptMessageOutput, 0, len(prep.Prompt.Messages)),
		Activated:       activatedOutput(prep.Activated),
		TotalTokens:     prep.Prompt.TotalTokens,
		DroppedHistory:  prep.Prompt.DroppedHistory,
		DroppedEntries:  prep.Prompt.DroppedEntries,
		SummaryIncluded: prep.Prompt.SummaryIncluded,
		HistoryStart:    prep.HistoryStart,
	}
	for _, m := range prep.Prompt.Messages {
		out.Messages = append(out.Messages, PromptMessageOutput{Role: string(m.Role), Source: string(m.Source), Content: m.Content})
	}
	return nil, out, nil
}

func (s *Server) handleGetSummaries(ctx context.Context, req *sdk.CallToolRequest, input GetSummariesInput) (*sdk.CallToolResult, GetSummariesOutput, error) {
	if input.ChatID == "" {
		return nil, GetSummariesOutput{}, fmt.Errorf("chat_id is required")
	}
	all, err := s.db.ListSummaries(ctx, input.ChatID)
	if err != nil {
		return nil, GetSummariesOutput{}, err
	}
	if input.From > 0 || input.To > 0 {
		to := input.To
		if to <= 0 {
			to = math.MaxInt
		}
		all = model.SummariesInRange(all, max(input.From, 1), to)
	}

	out := GetSummariesOutput{
		Summaries: make([]SummaryOutput, 0, len(all)),
		Text:      model.FormatSummaries(all),
	}
	for _, sum := range all {
		out.Summaries = append(out.Summaries, SummaryOutput{From: sum.FromMessage, To: sum.ToMessage, Summary: sum.Summary})
	}
	return nil, out, nil
}

func activatedOutput(entries []model.ActivatedEntry) []ActivatedOutput {
	out := make([]ActivatedOutput, 0, len(entries))
	for _, a := range entries {
		out = append(out, ActivatedOutput{
			ID:              a.Entry.ID,
			Content:         a.Entry.Content,
			Priority:        a.Entry.Priority,
			Position:        a.Entry.Position.String(),
			MatchKind:       a.MatchKind.String(),
			MatchedKeyword:  a.MatchedKeyword,
			Similarity:      a.Similarity,
			RecursionDepth:  a.RecursionDepth,
			EstimatedTokens: a.EstimatedTokens,
		})
	}
	return out
}
