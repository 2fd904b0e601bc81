package resilience

import (
	"context"
	"errors"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

// LLMFallback is an [llm.Provider] that walks a chain of reply models.
//
// An empty or filtered answer ([llm.ErrEmptyReply]) moves on to the next model
// without counting against the breaker of the model that gave it.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return defaultIsFailure(err) && !errors.Is(err, llm.ErrEmptyReply)
		}
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens and Capabilities answer for the primary model; the reply
// generator sizes its history window for it.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }
