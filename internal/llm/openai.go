package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiRequest struct {
	Model            string               `json:"model"`
	Messages         []openaiMessage      `json:"messages"`
	Temperature      float64              `json:"temperature"`
	TopP             float64              `json:"top_p,omitempty"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	FrequencyPenalty float64              `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64              `json:"presence_penalty,omitempty"`
	Stop             []string             `json:"stop,omitempty"`
	Stream           bool                 `json:"stream,omitempty"`
	StreamOptions    *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	Choices []struct {
		Message      *openaiMessage `json:"message,omitempty"`
		Delta        *openaiMessage `json:"delta,omitempty"`
		FinishReason *string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a client. baseURL defaults to the OpenAI API.
func NewOpenAIClient(baseURL, apiKey, modelName string, log *zap.Logger) *OpenAIClient {
	if log == nil {
		log = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      modelName,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.Named("openai"),
	}
}

func (c *OpenAIClient) request(msgs []model.PromptMessage, opts Options, stream bool) openaiRequest {
	req := openaiRequest{
		Model:            c.model,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		MaxTokens:        opts.MaxTokens,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Stop:             opts.Stop,
		Stream:           stream,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if stream {
		req.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	req.Messages = make([]openaiMessage, len(msgs))
	for i, m := range msgs {
		req.Messages[i] = openaiMessage{Role: string(m.Role), Content: m.Content}
	}
	return req
}

func (c *OpenAIClient) post(ctx context.Context, body openaiRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, msgs []model.PromptMessage, opts Options) (*Response, error) {
	resp, err := c.post(ctx, c.request(msgs, opts, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("openai error: %s", result.Error.Message)
	}
	out := &Response{}
	if len(result.Choices) > 0 {
		ch := result.Choices[0]
		if ch.Message != nil {
			out.Content = ch.Message.Content
		}
		if ch.FinishReason != nil {
			out.FinishReason = *ch.FinishReason
		}
	}
	if u := result.Usage; u != nil {
		out.PromptTokens, out.CompletionTokens, out.TotalTokens = u.PromptTokens, u.CompletionTokens, u.TotalTokens
	}
	if strings.TrimSpace(out.Content) == "" {
		return out, ErrEmptyResponse
	}
	return out, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, msgs []model.PromptMessage, opts Options, onChunk ChunkFunc) (*Response, error) {
	resp, err := c.post(ctx, c.request(msgs, opts, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	out := &Response{}
	finish := func(err error) (*Response, error) {
		out.Content = sb.String()
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk openaiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Debug("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if chunk.Error != nil {
			return finish(fmt.Errorf("openai stream error: %s", chunk.Error.Message))
		}
		if u := chunk.Usage; u != nil {
			out.PromptTokens, out.CompletionTokens, out.TotalTokens = u.PromptTokens, u.CompletionTokens, u.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		ch := chunk.Choices[0]
		if ch.FinishReason != nil {
			out.FinishReason = *ch.FinishReason
		}
		if ch.Delta == nil || ch.Delta.Content == "" {
			continue
		}
		sb.WriteString(ch.Delta.Content)
		if err := onChunk(ch.Delta.Content); err != nil {
			return finish(err)
		}
	}
	if err := scanner.Err(); err != nil {
		return finish(fmt.Errorf("openai stream: %w", err))
	}
	return finish(nil)
}
