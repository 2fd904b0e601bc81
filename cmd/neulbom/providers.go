package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/cho1y0/neulbom/internal/app"
	"github.com/cho1y0/neulbom/internal/config"
	"github.com/cho1y0/neulbom/internal/observe"
	"github.com/cho1y0/neulbom/internal/resilience"
	"github.com/cho1y0/neulbom/pkg/provider/emotion"
	"github.com/cho1y0/neulbom/pkg/provider/emotion/remote"
	"github.com/cho1y0/neulbom/pkg/provider/llm"
	"github.com/cho1y0/neulbom/pkg/provider/llm/anthropic"
	"github.com/cho1y0/neulbom/pkg/provider/llm/anyllm"
	oallm "github.com/cho1y0/neulbom/pkg/provider/llm/openai"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
	"github.com/cho1y0/neulbom/pkg/provider/stt/deepgram"
	oastt "github.com/cho1y0/neulbom/pkg/provider/stt/openai"
	"github.com/cho1y0/neulbom/pkg/provider/stt/whisper"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
	"github.com/cho1y0/neulbom/pkg/provider/tts/coqui"
	"github.com/cho1y0/neulbom/pkg/provider/tts/elevenlabs"
)

// extraRegistrations are added by build-tagged files (whispercpp).
var extraRegistrations []func(*config.Registry)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ---- LLM ----

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if e.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(e.BaseURL))
		}
		if org := optString(e.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		if n, ok := e.Options["max_retries"].(int); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		if legacy, _ := e.Options["legacy_max_tokens"].(bool); legacy {
			opts = append(opts, oallm.WithLegacyMaxTokens())
		}
		return oallm.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []anthropic.Option
		if e.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(e.BaseURL))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, anthropic.WithTimeout(d))
		}
		return anthropic.New(e.APIKey, e.Model, opts...)
	})

	// The remaining hosted backends share the any-llm adapter.
	for _, name := range []string{"gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" && name != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	// ---- STT ----

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if e.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, oastt.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	// ---- TTS ----

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if f := optString(e.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(e.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	// ---- Emotion ----

	reg.RegisterEmotion("remote", func(e config.ProviderEntry) (emotion.Classifier, error) {
		var opts []remote.Option
		if e.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(e.APIKey))
		}
		if d := optDuration(e.Options, "audio_window"); d > 0 {
			opts = append(opts, remote.WithAudioWindow(d))
		}
		return remote.New(e.BaseURL, remote.Modality(optString(e.Options, "modality")), opts...)
	})

	for _, register := range extraRegistrations {
		register(reg)
	}
	for _, kind := range []string{"llm", "stt", "tts", "emotion"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates every provider named in cfg. LLM, STT and
// TTS backends with fallbacks are wrapped in circuit-breaking fallback groups.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers
	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(backend string, _, to resilience.State) {
			observe.DefaultMetrics().RecordBreaker(context.Background(), backend, to.String())
		},
	}}

	if p.LLM.Name != "" {
		primary, err := create("llm", p.LLM, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		ps.LLM = primary
		if len(p.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(primary, p.LLM.Name, fb)
			for _, e := range p.LLMFallbacks {
				alt, err := create("llm", e, reg.CreateLLM)
				if err != nil {
					return nil, err
				}
				group.AddFallback(e.Name, alt)
			}
			ps.LLM = group
		}
	}

	primary, err := create("stt", p.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	ps.STT = primary
	if len(p.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(primary, p.STT.Name, fb)
		for _, e := range p.STTFallbacks {
			alt, err := create("stt", e, reg.CreateSTT)
			if err != nil {
				return nil, err
			}
			group.AddFallback(e.Name, alt)
		}
		ps.STT = group
	}

	if p.TTS.Name != "" {
		primary, err := create("tts", p.TTS, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		ps.TTS = primary
		if len(p.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(primary, p.TTS.Name, fb)
			for _, e := range p.TTSFallbacks {
				alt, err := create("tts", e, reg.CreateTTS)
				if err != nil {
					return nil, err
				}
				group.AddFallback(e.Name, alt)
			}
			ps.TTS = group
		}
	}

	if p.TextEmotion.Name != "" {
		if ps.TextEmotion, err = create("emotion", withModality(p.TextEmotion, remote.Text), reg.CreateEmotion); err != nil {
			return nil, err
		}
	}
	if p.AudioEmotion.Name != "" {
		if ps.AudioEmotion, err = create("emotion", withModality(p.AudioEmotion, remote.Audio), reg.CreateEmotion); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func create[T any](kind string, e config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	v, err := fn(e)
	if err != nil {
		return v, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model)
	return v, nil
}

// withModality returns a copy of e whose options carry m unless the entry
// already sets one.
func withModality(e config.ProviderEntry, m remote.Modality) config.ProviderEntry {
	if optString(e.Options, "modality") != "" {
		return e
	}
	opts := make(map[string]any, len(e.Options)+1)
	for k, v := range e.Options {
		opts[k] = v
	}
	opts["modality"] = string(m)
	e.Options = opts
	return e
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "30s" from opts. Invalid
// values are logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
