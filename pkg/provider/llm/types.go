package llm

import "strings"

// ModelCapabilities describes the limits of an LLM model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int
}

// DefaultCapabilities is assumed for models no provider recognises.
var DefaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// CapabilitiesFor returns the limits of well-known model families. Unknown
// models receive [DefaultCapabilities].
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	switch {
	// OpenAI
	case strings.HasPrefix(lower, "gpt-4.1"):
		return ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}
	case strings.HasPrefix(lower, "gpt-4o"):
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "gpt-4"):
		return ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		return ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "o1-mini"):
		return ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}

	// Anthropic
	case strings.Contains(lower, "claude-3-opus"):
		return ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}
	case strings.HasPrefix(lower, "claude"):
		return ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}

	// Google
	case strings.Contains(lower, "gemini-1.5-pro"):
		return ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}
	case strings.HasPrefix(lower, "gemini"):
		return ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}
	}
	return DefaultCapabilities
}
