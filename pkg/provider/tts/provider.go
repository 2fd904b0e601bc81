// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns the companion's finished reply into a playable
// recording. Replies are short (one or two sentences), so synthesis is a
// single request per reply rather than a sentence stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/cho1y0/neulbom/pkg/audio"
)

// ErrEmptyText is returned when asked to synthesize blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the decoded audio.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Clip, error)

	// ListVoices returns the voices the backend offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
