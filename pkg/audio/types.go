package audio

import "time"

// SampleRate16k is the sample rate every analysis stage works at.
const SampleRate16k = 16000

// Clip is a decoded mono recording. Samples are normalised to [-1.0, 1.0].
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Seconds returns the playback length of the clip in seconds.
func (c Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Float64 returns a float64 copy of the samples, as used by the DSP code.
func (c Clip) Float64() []float64 {
	out := make([]float64, len(c.Samples))
	for i, s := range c.Samples {
		out[i] = float64(s)
	}
	return out
}
