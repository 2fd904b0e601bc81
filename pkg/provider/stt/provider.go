// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (a whisper.cpp server,
// the OpenAI transcription endpoint, Deepgram's pre-recorded API, or an
// in-process whisper.cpp model) and turns one finished recording into one
// [Transcript]. Recordings arrive complete from the upload surface, so there is
// no streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/cho1y0/neulbom/pkg/audio"
)

// ErrEmptyAudio is returned when a provider is asked to transcribe a clip with
// no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Config carries per-request recognition hints. Zero values defer to the
// provider's configured defaults.
type Config struct {
	// Language is the BCP-47 language code (e.g., "ko", "en").
	Language string

	// Prompt is an optional priming text some engines use to bias spelling.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts clip into text. The clip may be at any sample rate;
	// providers resample as their backend requires.
	//
	// Returns an error if the backend is unreachable or rejects the audio. An
	// empty transcript with a nil error means the backend heard no speech.
	Transcribe(ctx context.Context, clip audio.Clip, cfg Config) (Transcript, error)
}
