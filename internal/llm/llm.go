// Package llm provides the chat model clients used for generation and
// summarisation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

var (
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrNoAPIKey is returned by constructors whose provider needs a key
	// and none was configured.
	ErrNoAPIKey = errors.New("api key is required")
)

// Options are the sampling parameters of one call. Zero values leave the
// provider default in place, except Temperature which is always sent.
type Options struct {
	Model            string
	Temperature      float64
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string
}

// Response is a completed (or, for a cancelled stream, partial) answer.
type Response struct {
	Content          string `json:"content"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
}

// ChunkFunc receives streamed text deltas in order. Returning an error
// stops the stream.
type ChunkFunc func(delta string) error

// Client sends an assembled context to a chat model.
type Client interface {
	Generate(ctx context.Context, msgs []model.PromptMessage, opts Options) (*Response, error)
	// Stream delivers deltas to onChunk. When ctx is cancelled mid-stream it
	// returns the partial response together with ctx.Err().
	Stream(ctx context.Context, msgs []model.PromptMessage, opts Options, onChunk ChunkFunc) (*Response, error)
}

// New creates a client for the named provider: "genai" or "openai".
func New(ctx context.Context, provider, modelName, baseURL, apiKey string, log *zap.Logger) (Client, error) {
	switch provider {
	case "genai":
		c, err := NewGenAIClient(ctx, apiKey, modelName, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIClient(baseURL, apiKey, modelName, log), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}
