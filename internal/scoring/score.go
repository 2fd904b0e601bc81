package scoring

import (
	"math"
	"sync/atomic"

	"github.com/cho1y0/neulbom/pkg/types"
)

// Score maps value onto 0–100 against the inclusive band [min, max].
//
// Inside the band the score is 100. Below it the score falls linearly to 0
// at value 0 (a zero lower bound scores any negative value as 0). Above it
// the score falls linearly, reaching 0 at twice max.
func Score(value, min, max float64) float64 {
	switch {
	case math.IsNaN(value):
		return 0
	case value >= min && value <= max:
		return 100
	case value < min:
		if min == 0 {
			return 0
		}
		return math.Max(0, value/min*100)
	default:
		if max == 0 {
			return 0
		}
		return math.Max(0, 100-(value-max)/max*100)
	}
}

// EmotionScore maps a final emotion and its confidence onto 0–100.
// Happiness rises from 80 toward 100 and neutral sits between 70 and 80.
// Every other label, unknown included, falls from 60 toward 0 as
// confidence grows.
// The result is rounded to one decimal.
func EmotionScore(label types.EmotionLabel, confidence float64) float64 {
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Min(1, math.Max(0, confidence))

	var s float64
	switch label {
	case types.EmotionHappiness:
		s = math.Min(100, 80+confidence*20)
	case types.EmotionNeutral:
		s = 70 + confidence*10
	default:
		s = math.Max(0, 60-confidence*60)
	}
	return math.Round(s*10) / 10
}

// Engine computes [types.ScoreSet] values. Bands may be replaced at runtime.
type Engine struct {
	bands atomic.Pointer[Bands]
}

// NewEngine returns an Engine using b.
func NewEngine(b Bands) *Engine {
	e := &Engine{}
	e.bands.Store(&b)
	return e
}

// Bands returns the bands currently in effect.
func (e *Engine) Bands() Bands { return *e.bands.Load() }

// SetBands replaces the bands for subsequent calls.
func (e *Engine) SetBands(b Bands) { e.bands.Store(&b) }

// Compute scores one utterance. An unmeasured response time is scored at
// the response band's lower bound.
func (e *Engine) Compute(t types.Transcript, d types.FusionDecision) types.ScoreSet {
	b := e.Bands()

	response := b.Response.Min
	if t.ResponseTimeSec != nil {
		response = *t.ResponseTimeSec
	}

	// Confidence comes from the speech classifier even when text won. A
	// degraded decision keeps its fallback confidence and scores negative.
	label := d.FinalLabel
	if label == "" {
		label = types.EmotionUnknown
	}

	s := types.ScoreSet{
		Speed:      Score(t.WPM, b.Speed.Min, b.Speed.Max),
		Duration:   Score(t.DurationSec, b.Duration.Min, b.Duration.Max),
		Response:   Score(response, b.Response.Min, b.Response.Max),
		WordCount:  Score(float64(t.WordCount), b.WordCount.Min, b.WordCount.Max),
		Vocabulary: Score(t.TTR, b.Vocabulary.Min, b.Vocabulary.Max),
		Silence:    Score(t.AvgSilenceSec, b.Silence.Min, b.Silence.Max),
		Emotion:    EmotionScore(label, d.AudioConfidence),
		Vitality:   Score(t.VPR, b.Vitality.Min, b.Vitality.Max),
	}
	s.Average = Average(s)
	return s
}

// Average returns the unweighted mean of the eight metric scores.
func Average(s types.ScoreSet) float64 {
	sum := s.Speed + s.Duration + s.Response + s.WordCount +
		s.Vocabulary + s.Silence + s.Emotion + s.Vitality
	return sum / 8
}
