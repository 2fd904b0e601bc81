// Package anthropic provides an LLM provider backed by the Anthropic
// Messages API through the official SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

// defaultMaxTokens is used when a request leaves MaxTokens unset; the
// Messages API requires a value.
const defaultMaxTokens = 1024

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the Anthropic API.
type Provider struct {
	client sdk.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an Anthropic Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: sdk.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider. System-role messages in the history are
// folded into the system prompt, which the Messages API takes separately.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	system, msgs, err := splitMessages(req)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{
			{Text: system, CacheControl: sdk.NewCacheControlEphemeralParam()},
		}
	}
	if req.Temperature != 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("anthropic: no text content in response")
	}
	in, out := int(message.Usage.InputTokens), int(message.Usage.OutputTokens)
	return &llm.CompletionResponse{
		Content:      text.String(),
		FinishReason: string(message.StopReason),
		Usage:        llm.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

func splitMessages(req llm.CompletionRequest) (string, []sdk.MessageParam, error) {
	system := []string{}
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "user":
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			return "", nil, fmt.Errorf("anthropic: unknown message role %q", m.Role)
		}
	}
	if len(msgs) == 0 {
		return "", nil, errors.New("anthropic: request has no user or assistant messages")
	}
	return strings.Join(system, "\n\n"), msgs, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.CapabilitiesFor(p.model)
}
