package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	llmmock "github.com/cho1y0/neulbom/pkg/provider/llm/mock"
	"github.com/cho1y0/neulbom/pkg/types"
)

func reply(text string) *llm.CompletionResponse { return &llm.CompletionResponse{Content: text} }

func TestLLMFallback_Complete(t *testing.T) {
	tests := []struct {
		name          string
		primary       *llmmock.Provider
		secondary     *llmmock.Provider
		want          string
		wantErr       error
		wantSecondary int
	}{
		{
			name:      "primary answers",
			primary:   &llmmock.Provider{CompleteResponse: reply("할머니, 오늘 산책 다녀오셨어요?")},
			secondary: &llmmock.Provider{CompleteResponse: reply("secondary")},
			want:      "할머니, 오늘 산책 다녀오셨어요?",
		},
		{
			name:          "primary down",
			primary:       &llmmock.Provider{CompleteErr: errors.New("502 bad gateway")},
			secondary:     &llmmock.Provider{CompleteResponse: reply("네, 말씀하세요.")},
			want:          "네, 말씀하세요.",
			wantSecondary: 1,
		},
		{
			name:          "primary filtered",
			primary:       &llmmock.Provider{CompleteErr: fmt.Errorf("openai: finish reason %q: %w", "content_filter", llm.ErrEmptyReply)},
			secondary:     &llmmock.Provider{CompleteResponse: reply("괜찮으세요?")},
			want:          "괜찮으세요?",
			wantSecondary: 1,
		},
		{
			name:          "both down",
			primary:       &llmmock.Provider{CompleteErr: errors.New("primary down")},
			secondary:     &llmmock.Provider{CompleteErr: errors.New("secondary down")},
			wantErr:       ErrAllFailed,
			wantSecondary: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewLLMFallback(tt.primary, "openai", FallbackConfig{})
			fb.AddFallback("ollama", tt.secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "warm"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if got := tt.secondary.CallCount(); got != tt.wantSecondary {
				t.Errorf("secondary called %d times, want %d", got, tt.wantSecondary)
			}
			if req, _ := tt.primary.LastRequest(); req.SystemPrompt != "warm" {
				t.Errorf("request not forwarded: %+v", req)
			}
		})
	}
}

func TestLLMFallback_EmptyReplyKeepsBreakerClosed(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: llm.ErrEmptyReply}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}})
	fb.AddFallback("ollama", &llmmock.Provider{CompleteResponse: reply("ok")})

	for range 3 {
		if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if primary.CallCount() != 3 {
		t.Errorf("primary called %d times, want 3", primary.CallCount())
	}
	if st := fb.Status(); st[0].State != "closed" {
		t.Errorf("primary breaker = %s, want closed", st[0].State)
	}
}

func TestLLMFallback_DeadlineStopsFailover(t *testing.T) {
	primary := &llmmock.Provider{Delay: time.Second}
	secondary := &llmmock.Provider{CompleteResponse: reply("late")}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := fb.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times", secondary.CallCount())
	}
}

func TestLLMFallback_SizingFollowsPrimary(t *testing.T) {
	primary := &llmmock.Provider{
		TokenCount:        42,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000, MaxOutputTokens: 4096},
	}
	secondary := &llmmock.Provider{TokenCount: 7}
	fb := NewLLMFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	n, err := fb.CountTokens([]types.Message{{Role: "user", Content: "무릎이 아파요"}})
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v; want 42", n, err)
	}
	if caps := fb.Capabilities(); caps.ContextWindow != 128000 {
		t.Errorf("Capabilities = %+v", caps)
	}
}
