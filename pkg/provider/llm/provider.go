// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, and so on) and exposes a uniform interface for the reply
// generator to request completions, estimate token usage, and inspect model
// limits without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"

	"github.com/cho1y0/neulbom/pkg/types"
)

// ErrEmptyReply is returned when the model answered with no usable text,
// for example because a content filter stopped it. Callers treat it like
// any other failed completion.
var ErrEmptyReply = errors.New("llm: model returned no text")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history. Providers without a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens messages would consume in the
	// model's context window. The result need not be exact but should not
	// undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the shared character-based approximation used by
// providers without a tokenizer: about four bytes per token plus a small
// per-message overhead for role and formatting.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
