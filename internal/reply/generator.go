package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/cho1y0/neulbom/internal/scoring"
	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

// Persona configures the companion's voice.
type Persona struct {
	// Name is how the companion refers to herself.
	Name string `yaml:"name"`

	// MaxTurns is the number of user/assistant exchanges kept per session.
	MaxTurns int `yaml:"max_turns"`

	// MaxTokens caps each reply.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature of reply sampling. Zero leaves the provider default.
	Temperature float64 `yaml:"temperature"`

	// FallbackReply is spoken when the LLM fails.
	FallbackReply string `yaml:"fallback_reply"`
}

// DefaultPersona returns the stock persona.
func DefaultPersona() Persona {
	return Persona{
		Name:          "보미",
		MaxTurns:      10,
		MaxTokens:     1500,
		FallbackReply: "할머니, 제가 잠깐 딴생각을 했나 봐요. 다시 말씀해 주시겠어요?",
	}
}

// WithDefaults fills zero fields from [DefaultPersona].
func (p Persona) WithDefaults() Persona {
	d := DefaultPersona()
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.MaxTurns == 0 {
		p.MaxTurns = d.MaxTurns
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = d.MaxTokens
	}
	if p.FallbackReply == "" {
		p.FallbackReply = d.FallbackReply
	}
	return p
}

// Validate checks the persona for impossible values.
func (p Persona) Validate() error {
	var errs []error
	if p.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("persona.max_turns %d must not be negative", p.MaxTurns))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("persona.max_tokens %d must not be negative", p.MaxTokens))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("persona.temperature %.2f outside [0,2]", p.Temperature))
	}
	return errors.Join(errs...)
}

// Input is one user utterance with its analysis.
type Input struct {
	SessionID string
	Text      string
	Decision  types.FusionDecision
	Scores    types.ScoreSet
}

// Result is a generated reply. Text is always speakable; Err is set when
// Text is the fallback apology.
type Result struct {
	Text     string
	Fallback bool
	Err      error
}

// Generator produces replies. It is safe for concurrent use.
type Generator struct {
	llm     llm.Provider
	persona Persona
	risk    atomic.Pointer[scoring.RiskThresholds]
	hist    *histories
}

// Option configures a [Generator].
type Option func(*Generator)

// WithPersona overrides [DefaultPersona]. Zero fields keep their defaults.
func WithPersona(p Persona) Option {
	return func(g *Generator) { g.persona = p.WithDefaults() }
}

// WithRiskThresholds overrides [scoring.DefaultRiskThresholds].
func WithRiskThresholds(t scoring.RiskThresholds) Option {
	return func(g *Generator) { g.risk.Store(&t) }
}

// NewGenerator returns a Generator backed by provider.
func NewGenerator(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{llm: provider, persona: DefaultPersona(), hist: newHistories()}
	r := scoring.DefaultRiskThresholds()
	g.risk.Store(&r)
	for _, o := range opts {
		o(g)
	}
	return g
}

// Persona returns the persona in effect.
func (g *Generator) Persona() Persona { return g.persona }

// SetRiskThresholds replaces the escalation thresholds for subsequent turns.
func (g *Generator) SetRiskThresholds(t scoring.RiskThresholds) { g.risk.Store(&t) }

// Reply generates the companion's answer to in. The system prompt is rebuilt
// from in's decision and scores every turn. On success the exchange is added
// to the session history; on failure the history is left untouched and the
// fallback apology is returned with the error.
func (g *Generator) Reply(ctx context.Context, in Input) Result {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		text = "..."
	}

	conv := g.hist.get(in.SessionID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	system := SystemPrompt(g.persona.Name, in.Decision, g.risk.Load().Risk(in.Scores))
	msgs := append(conv.snapshot(), types.Message{Role: "user", Content: text})
	msgs = g.fit(system, msgs)

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     msgs,
		Temperature:  g.persona.Temperature,
		MaxTokens:    g.persona.MaxTokens,
	})
	if err != nil {
		slog.Warn("reply: llm failed, using fallback", "session_id", in.SessionID, "err", err)
		return Result{Text: g.persona.FallbackReply, Fallback: true, Err: fmt.Errorf("reply: complete: %w", err)}
	}

	var answer string
	if resp != nil {
		answer = strings.TrimSpace(resp.Content)
	}
	if answer == "" {
		answer = "..."
	}
	conv.commit(text, answer, g.persona.MaxTurns)
	return Result{Text: answer}
}

// fit drops the oldest exchanges until the prompt leaves room for the reply
// in the model's context window. The newest user message is always kept.
func (g *Generator) fit(system string, msgs []types.Message) []types.Message {
	caps := g.llm.Capabilities()
	if caps.ContextWindow <= 0 {
		return msgs
	}
	budget := caps.ContextWindow - g.persona.MaxTokens
	for len(msgs) > 1 {
		n, err := g.llm.CountTokens(append([]types.Message{{Role: "system", Content: system}}, msgs...))
		if err != nil || n <= budget {
			return msgs
		}
		drop := 2
		if len(msgs)-drop < 1 {
			drop = len(msgs) - 1
		}
		msgs = msgs[drop:]
	}
	return msgs
}

// Reset forgets the conversation for sessionID.
func (g *Generator) Reset(sessionID string) { g.hist.reset(sessionID) }

// Len returns the number of completed exchanges for sessionID.
func (g *Generator) Len(sessionID string) int { return g.hist.turns(sessionID) }
