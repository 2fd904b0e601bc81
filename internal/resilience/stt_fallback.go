package resilience

import (
	"context"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs clip through the first healthy provider. An empty clip is
// rejected up front so it does not trip every breaker in the group.
func (f *STTFallback) Transcribe(ctx context.Context, clip audio.Clip, cfg stt.Config) (stt.Transcript, error) {
	if len(clip.Samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, clip, cfg)
	})
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }
