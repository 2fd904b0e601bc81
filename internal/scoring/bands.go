// Package scoring converts behavioural speech metrics and a fusion decision
// into bounded 0–100 health sub-scores.
//
// Each raw metric is scored against an optimal [Band]: 100 inside the band,
// falling off linearly outside it. The emotion sub-score uses its own
// asymmetric mapping that penalises confident negative emotion steeply. The
// aggregate is the unweighted mean of the eight sub-scores.
package scoring

import (
	"errors"
	"fmt"
)

// Band is an optimal range for one metric.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`

	// Weight is carried for reporting; the aggregate does not apply it.
	Weight float64 `yaml:"weight" json:"weight"`
}

// Bands holds the optimal range for every scored metric.
type Bands struct {
	Speed      Band `yaml:"speed" json:"speed"`
	Duration   Band `yaml:"duration" json:"duration"`
	Response   Band `yaml:"response" json:"response"`
	WordCount  Band `yaml:"word_count" json:"word_count"`
	Vocabulary Band `yaml:"vocabulary" json:"vocabulary"`
	Silence    Band `yaml:"silence" json:"silence"`
	Emotion    Band `yaml:"emotion" json:"emotion"`
	Vitality   Band `yaml:"vitality" json:"vitality"`
}

// DefaultBands returns the stock optimal ranges.
func DefaultBands() Bands {
	return Bands{
		Speed:      Band{Min: 100, Max: 150, Weight: 1.0},
		Duration:   Band{Min: 3, Max: 10, Weight: 1.0},
		Response:   Band{Min: 0, Max: 2, Weight: 1.0},
		WordCount:  Band{Min: 5, Max: 20, Weight: 1.0},
		Vocabulary: Band{Min: 0.6, Max: 0.9, Weight: 1.0},
		Silence:    Band{Min: 0, Max: 1, Weight: 1.0},
		Emotion:    Band{Min: 70, Max: 100, Weight: 1.5},
		Vitality:   Band{Min: 2, Max: 10, Weight: 1.0},
	}
}

// named returns the bands with their config names, in a stable order.
func (b Bands) named() []struct {
	name string
	band Band
} {
	return []struct {
		name string
		band Band
	}{
		{"speed", b.Speed},
		{"duration", b.Duration},
		{"response", b.Response},
		{"word_count", b.WordCount},
		{"vocabulary", b.Vocabulary},
		{"silence", b.Silence},
		{"emotion", b.Emotion},
		{"vitality", b.Vitality},
	}
}

// Validate checks that every band is well formed.
func (b Bands) Validate() error {
	var errs []error
	for _, n := range b.named() {
		switch {
		case n.band.Min < 0:
			errs = append(errs, fmt.Errorf("scoring.%s.min %.2f must not be negative", n.name, n.band.Min))
		case n.band.Max <= 0:
			errs = append(errs, fmt.Errorf("scoring.%s.max %.2f must be positive", n.name, n.band.Max))
		case n.band.Min > n.band.Max:
			errs = append(errs, fmt.Errorf("scoring.%s: min %.2f exceeds max %.2f", n.name, n.band.Min, n.band.Max))
		}
		if n.band.Weight < 0 {
			errs = append(errs, fmt.Errorf("scoring.%s.weight %.2f must not be negative", n.name, n.band.Weight))
		}
	}
	return errors.Join(errs...)
}

// WithDefaults fills zero-valued bands from [DefaultBands].
func (b Bands) WithDefaults() Bands {
	d := DefaultBands()
	fill := func(dst *Band, def Band) {
		if *dst == (Band{}) {
			*dst = def
		}
		if dst.Weight == 0 {
			dst.Weight = def.Weight
		}
	}
	fill(&b.Speed, d.Speed)
	fill(&b.Duration, d.Duration)
	fill(&b.Response, d.Response)
	fill(&b.WordCount, d.WordCount)
	fill(&b.Vocabulary, d.Vocabulary)
	fill(&b.Silence, d.Silence)
	fill(&b.Emotion, d.Emotion)
	fill(&b.Vitality, d.Vitality)
	return b
}
