package anyllm

import (
	"sort"
	"strings"
	"testing"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

func TestParams(t *testing.T) {
	p := &Provider{model: "exaone3.5"}
	params := p.params(llm.CompletionRequest{
		SystemPrompt: "persona",
		Messages: []types.Message{
			{Role: "user", Content: "a"},
			{Role: "assistant", Content: "b"},
		},
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if params.Model != "exaone3.5" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 3 || params.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system first", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 1500 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}

	bare := p.params(llm.CompletionRequest{Messages: []types.Message{{Role: "user", Content: "a"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero temperature and max tokens should be left unset")
	}
	if len(bare.Messages) != 1 {
		t.Errorf("messages = %d, want 1 without system prompt", len(bare.Messages))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty backend")
	}
	if _, err := New("ollama", ""); err == nil {
		t.Error("expected error for empty model")
	}
	_, err := New("watson", "m")
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") || !strings.Contains(err.Error(), "ollama") {
		t.Errorf("err = %v, want unsupported backend listing the supported ones", err)
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if !sort.StringsAreSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, want := range []string{"gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"} {
		if _, ok := backends[want]; !ok {
			t.Errorf("backend %q missing", want)
		}
	}
}

func TestNew_Ollama(t *testing.T) {
	p, err := New("Ollama", "exaone3.5:7.8b")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Backend() != "ollama" {
		t.Errorf("backend = %q, want lower-cased name", p.Backend())
	}
	if p.Capabilities() != llm.DefaultCapabilities {
		t.Errorf("capabilities = %+v, want defaults", p.Capabilities())
	}
}
