package reply_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cho1y0/neulbom/internal/reply"
	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/provider/llm/mock"
	"github.com/cho1y0/neulbom/pkg/types"
)

func sad() types.FusionDecision {
	return types.FusionDecision{
		FinalLabel:      types.EmotionSadness,
		AudioLabel:      types.EmotionSadness,
		AudioConfidence: 0.9,
		Source:          types.SourceAudioPriority,
	}
}

func calm() types.ScoreSet { return types.ScoreSet{Average: 85, Emotion: 80} }

func TestReply_CommitsExchange(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  그러셨구나, 할머니.  "}}
	g := reply.NewGenerator(p)

	res := g.Reply(context.Background(), reply.Input{
		SessionID: "s1",
		Text:      "오늘 좀 외로웠어",
		Decision:  sad(),
		Scores:    types.ScoreSet{Average: 45, Emotion: 6},
	})
	if res.Fallback || res.Err != nil {
		t.Fatalf("unexpected fallback: %+v", res)
	}
	if res.Text != "그러셨구나, 할머니." {
		t.Errorf("text = %q", res.Text)
	}
	if g.Len("s1") != 1 {
		t.Errorf("Len = %d, want 1", g.Len("s1"))
	}

	req, _ := p.LastRequest()
	for _, want := range []string{"보미", "슬픔", "0.90", "고위험"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if req.MaxTokens != 1500 {
		t.Errorf("MaxTokens = %d, want 1500", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "오늘 좀 외로웠어" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestReply_SystemPromptRefreshedEachTurn(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "네"}}
	g := reply.NewGenerator(p)
	ctx := context.Background()

	g.Reply(ctx, reply.Input{SessionID: "s", Text: "하나", Decision: sad(), Scores: calm()})
	g.Reply(ctx, reply.Input{SessionID: "s", Text: "둘", Decision: types.FusionDecision{
		FinalLabel: types.EmotionHappiness, AudioConfidence: 0.7, Source: types.SourceTextPriority,
	}, Scores: calm()})

	req, _ := p.LastRequest()
	if strings.Contains(req.SystemPrompt, "슬픔") || !strings.Contains(req.SystemPrompt, "기쁨") {
		t.Errorf("system prompt not refreshed:\n%s", req.SystemPrompt)
	}
	if strings.Contains(req.SystemPrompt, "주의") {
		t.Error("low-risk turn should carry no escalation section")
	}
	if len(req.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(req.Messages))
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			t.Error("system prompt must not be stored in history")
		}
	}
}

func TestReply_EmptyCompletion(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	g := reply.NewGenerator(p)
	res := g.Reply(context.Background(), reply.Input{SessionID: "s", Text: "안녕"})
	if res.Text != "..." || res.Fallback {
		t.Errorf("result = %+v, want ellipsis without fallback", res)
	}
}

func TestReply_FailureLeavesHistory(t *testing.T) {
	boom := errors.New("upstream down")
	p := &mock.Provider{CompleteErr: boom}
	g := reply.NewGenerator(p)

	res := g.Reply(context.Background(), reply.Input{SessionID: "s", Text: "안녕"})
	if !res.Fallback || res.Text != reply.DefaultPersona().FallbackReply {
		t.Errorf("result = %+v, want fallback apology", res)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("err = %v, want wrapping %v", res.Err, boom)
	}
	if g.Len("s") != 0 {
		t.Errorf("Len = %d, want 0 after failure", g.Len("s"))
	}
}

func TestReply_TrimsToMaxTurns(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "응"}}
	g := reply.NewGenerator(p, reply.WithPersona(reply.Persona{MaxTurns: 2}))
	ctx := context.Background()

	for _, text := range []string{"일", "이", "삼", "사"} {
		g.Reply(ctx, reply.Input{SessionID: "s", Text: text})
	}
	if g.Len("s") != 2 {
		t.Errorf("Len = %d, want 2", g.Len("s"))
	}
	req, _ := p.LastRequest()
	// Two kept exchanges ("이", "삼") plus the new user message.
	if len(req.Messages) != 5 || req.Messages[0].Content != "이" || req.Messages[4].Content != "사" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestReply_FitsContextWindow(t *testing.T) {
	p := &mock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "응"},
		TokenCount:        10_000,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 4000, MaxOutputTokens: 1000},
	}
	g := reply.NewGenerator(p)
	ctx := context.Background()
	g.Reply(ctx, reply.Input{SessionID: "s", Text: "first"})
	g.Reply(ctx, reply.Input{SessionID: "s", Text: "second"})

	req, _ := p.LastRequest()
	if len(req.Messages) != 1 || req.Messages[0].Content != "second" {
		t.Errorf("messages = %+v, want only the newest user message", req.Messages)
	}
}

func TestReply_SessionsIndependent(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "응"}}
	g := reply.NewGenerator(p)
	ctx := context.Background()
	g.Reply(ctx, reply.Input{SessionID: "a", Text: "x"})
	g.Reply(ctx, reply.Input{SessionID: "a", Text: "y"})
	g.Reply(ctx, reply.Input{SessionID: "b", Text: "z"})

	if g.Len("a") != 2 || g.Len("b") != 1 {
		t.Errorf("Len a=%d b=%d, want 2 and 1", g.Len("a"), g.Len("b"))
	}
	g.Reset("a")
	if g.Len("a") != 0 || g.Len("b") != 1 {
		t.Errorf("after Reset: Len a=%d b=%d", g.Len("a"), g.Len("b"))
	}
}

func TestReply_SameSessionSerialized(t *testing.T) {
	var inflight, peak atomic.Int32
	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return &llm.CompletionResponse{Content: "응"}, nil
	}}
	g := reply.NewGenerator(p)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Reply(context.Background(), reply.Input{SessionID: "same", Text: "hi"})
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
	if g.Len("same") != 4 {
		t.Errorf("Len = %d, want 4", g.Len("same"))
	}
}

func TestReply_DifferentSessionsConcurrent(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() { arrived.Wait(); close(both) }()

	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		arrived.Done()
		select {
		case <-both:
			return &llm.CompletionResponse{Content: "응"}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sessions blocked each other")
		}
	}}
	g := reply.NewGenerator(p)

	results := make(chan reply.Result, 2)
	for _, id := range []string{"a", "b"} {
		go func() {
			results <- g.Reply(context.Background(), reply.Input{SessionID: id, Text: "hi"})
		}()
	}
	for i := 0; i < 2; i++ {
		if r := <-results; r.Err != nil {
			t.Error(r.Err)
		}
	}
}

func TestPersona_Validate(t *testing.T) {
	if err := reply.DefaultPersona().Validate(); err != nil {
		t.Fatalf("default persona invalid: %v", err)
	}
	err := reply.Persona{MaxTurns: -1, Temperature: 3}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"max_turns", "temperature"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestPersona_WithDefaults(t *testing.T) {
	p := reply.Persona{Name: "하늘"}.WithDefaults()
	if p.Name != "하늘" || p.MaxTurns != 10 || p.FallbackReply == "" {
		t.Errorf("WithDefaults = %+v", p)
	}
}
