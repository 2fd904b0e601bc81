// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Clip: audio.Clip{Samples: make([]float32, 160), SampleRate: 16000}}
//	clip, _ := p.Synthesize(ctx, "안녕하세요", voice)
package mock

import (
	"context"
	"sync"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize when SynthesizeErr is nil.
	Clip audio.Clip

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts ListVoices calls.
	ListVoicesCalls int
}

// Synthesize records the call and returns Clip, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return audio.Clip{}, p.SynthesizeErr
	}
	return p.Clip, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

var _ tts.Provider = (*Provider)(nil)
