package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "claude-sonnet-4-5"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestSplitMessages(t *testing.T) {
	system, msgs, err := splitMessages(llm.CompletionRequest{
		SystemPrompt: "persona",
		Messages: []types.Message{
			{Role: "system", Content: "strategy"},
			{Role: "user", Content: "안녕"},
			{Role: "assistant", Content: "네"},
		},
	})
	if err != nil {
		t.Fatalf("splitMessages: %v", err)
	}
	if system != "persona\n\nstrategy" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}

	if _, _, err := splitMessages(llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Error("expected error without conversational messages")
	}
	if _, _, err := splitMessages(llm.CompletionRequest{Messages: []types.Message{{Role: "tool"}}}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "평균 점수 72점으로 안정적인 하루였어요."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`)
	}))
	defer srv.Close()

	p, err := New("key", "claude-sonnet-4-5", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "caregiver report",
		Messages:     []types.Message{{Role: "user", Content: "요약해줘"}},
		MaxTokens:    300,
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "평균 점수 72점으로 안정적인 하루였어요." {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 150 || resp.FinishReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}
	if body["max_tokens"] != float64(300) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	if _, ok := body["system"]; !ok {
		t.Error("system prompt not sent")
	}
}
