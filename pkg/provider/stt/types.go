package stt

import "time"

// Transcript is the result of transcribing one recording.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the backend recognised, when it reports one.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Segments holds per-segment timing when available.
	Segments []Segment

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Segment is a timed span of recognised text.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}
