package resilience

import (
	"context"
	"strings"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across synthesis
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy provider. Voice IDs are
// backend specific, so a fallback receives the voice with only its language
// kept.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return audio.Clip{}, tts.ErrEmptyText
	}
	primary := f.group.Primary()
	return ExecuteWithResult(f.group, func(p tts.Provider) (audio.Clip, error) {
		if p != primary {
			return p.Synthesize(ctx, text, tts.VoiceProfile{Language: voice.Language})
		}
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }
