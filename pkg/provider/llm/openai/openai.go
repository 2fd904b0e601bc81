// Package openai talks to the OpenAI Chat Completions API, or to any server
// that speaks it (vLLM, llama.cpp server, LM Studio) via [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is an [llm.Provider] for OpenAI-compatible chat models.
type Provider struct {
	client oai.Client
	model  string

	// legacyMaxTokens sends max_tokens instead of max_completion_tokens.
	legacyMaxTokens bool

	reqOpts []option.RequestOption
}

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL targets an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request, retries included.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxRetries sets how often the SDK retries rate limits and 5xx
// answers. The SDK default is 2.
func WithMaxRetries(n int) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithMaxRetries(n)) }
}

// WithLegacyMaxTokens sends the completion cap as max_tokens. Older
// self-hosted servers reject max_completion_tokens.
func WithLegacyMaxTokens() Option {
	return func(p *Provider) { p.legacyMaxTokens = true }
}

// New returns a Provider for model. apiKey may be a placeholder for local
// servers that ignore it, but must not be empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	p := &Provider{model: model, reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

// Complete sends one chat completion. A reply that is blank after trimming,
// or that the server's content filter cut off, yields [llm.ErrEmptyReply].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices: %w", llm.ErrEmptyReply)
	}

	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" || choice.FinishReason == "content_filter" {
		return nil, fmt.Errorf("openai: finish reason %q: %w", choice.FinishReason, llm.ErrEmptyReply)
	}
	return &llm.CompletionResponse{
		Content:      content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens uses the shared byte-based estimate.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.CapabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	switch {
	case req.MaxTokens <= 0:
	case p.legacyMaxTokens:
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	default:
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
}
