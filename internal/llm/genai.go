package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

// GenAIClient talks to Gemini through the genai SDK.
type GenAIClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGenAIClient creates a Gemini client. An empty apiKey falls back to
// GEMINI_API_KEY.
func NewGenAIClient(ctx context.Context, apiKey, modelName string, log *zap.Logger) (*GenAIClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("genai client: %w", ErrNoAPIKey)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIClient{client: client, model: modelName, log: log.Named("genai")}, nil
}

func (c *GenAIClient) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func (c *GenAIClient) Generate(ctx context.Context, msgs []model.PromptMessage, opts Options) (*Response, error) {
	system, contents := toContents(msgs)
	resp, err := c.client.Models.GenerateContent(ctx, c.modelFor(opts), contents, generateConfig(system, opts))
	if err != nil {
		return nil, fmt.Errorf("genai generate: %w", err)
	}
	out := fromResponse(resp)
	out.Content = resp.Text()
	if strings.TrimSpace(out.Content) == "" {
		return out, ErrEmptyResponse
	}
	return out, nil
}

func (c *GenAIClient) Stream(ctx context.Context, msgs []model.PromptMessage, opts Options, onChunk ChunkFunc) (*Response, error) {
	system, contents := toContents(msgs)
	var sb strings.Builder
	out := &Response{}
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.modelFor(opts), contents, generateConfig(system, opts)) {
		if ctx.Err() != nil {
			out.Content = sb.String()
			return out, ctx.Err()
		}
		if err != nil {
			out.Content = sb.String()
			return out, fmt.Errorf("genai stream: %w", err)
		}
		last := fromResponse(resp)
		if last.FinishReason != "" {
			out.FinishReason = last.FinishReason
		}
		if last.TotalTokens > 0 {
			out.PromptTokens, out.CompletionTokens, out.TotalTokens = last.PromptTokens, last.CompletionTokens, last.TotalTokens
		}
		delta := resp.Text()
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if err := onChunk(delta); err != nil {
			out.Content = sb.String()
			return out, err
		}
	}
	out.Content = sb.String()
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	c.log.Debug("stream finished", zap.Int("chars", len(out.Content)), zap.String("finish_reason", out.FinishReason))
	return out, nil
}

// toContents maps the assembled context onto Gemini turns. Leading system
// messages become the system instruction; later system messages are sent as
// user turns. Consecutive turns of the same role are merged.
func toContents(msgs []model.PromptMessage) (*genai.Content, []*genai.Content) {
	var systemParts []*genai.Part
	i := 0
	for ; i < len(msgs) && msgs[i].Role == model.RoleSystem; i++ {
		systemParts = append(systemParts, genai.NewPartFromText(msgs[i].Content))
	}

	var contents []*genai.Content
	for _, m := range msgs[i:] {
		role := genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		part := genai.NewPartFromText(m.Content)
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: []*genai.Part{part}})
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return system, contents
}

func generateConfig(system *genai.Content, opts Options) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       genai.Ptr(float32(opts.Temperature)),
		StopSequences:     opts.Stop,
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(opts.TopP))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.PresencePenalty != 0 {
		cfg.PresencePenalty = genai.Ptr(float32(opts.PresencePenalty))
	}
	if opts.FrequencyPenalty != 0 {
		cfg.FrequencyPenalty = genai.Ptr(float32(opts.FrequencyPenalty))
	}
	return cfg
}

func fromResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
		out.TotalTokens = int(u.TotalTokenCount)
	}
	return out
}
