package scoring

import (
	"errors"
	"fmt"

	"github.com/cho1y0/neulbom/pkg/types"
)

// RiskLevel classifies how urgently a turn needs caregiver attention.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskThresholds are the low-water marks for the risk register. A turn is
// high risk when its average is below HighAverage or its emotion score is
// below HighEmotion; medium under the Medium pair.
type RiskThresholds struct {
	HighAverage   float64 `yaml:"high_average" json:"high_average"`
	HighEmotion   float64 `yaml:"high_emotion" json:"high_emotion"`
	MediumAverage float64 `yaml:"medium_average" json:"medium_average"`
	MediumEmotion float64 `yaml:"medium_emotion" json:"medium_emotion"`
}

// DefaultRiskThresholds returns the stock risk marks.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		HighAverage:   50,
		HighEmotion:   40,
		MediumAverage: 65,
		MediumEmotion: 60,
	}
}

// Validate checks that the high marks sit at or below the medium marks.
func (r RiskThresholds) Validate() error {
	var errs []error
	if r.HighAverage > r.MediumAverage {
		errs = append(errs, fmt.Errorf("scoring.risk: high_average %.1f exceeds medium_average %.1f", r.HighAverage, r.MediumAverage))
	}
	if r.HighEmotion > r.MediumEmotion {
		errs = append(errs, fmt.Errorf("scoring.risk: high_emotion %.1f exceeds medium_emotion %.1f", r.HighEmotion, r.MediumEmotion))
	}
	for name, v := range map[string]float64{
		"high_average": r.HighAverage, "high_emotion": r.HighEmotion,
		"medium_average": r.MediumAverage, "medium_emotion": r.MediumEmotion,
	} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("scoring.risk.%s %.1f outside [0,100]", name, v))
		}
	}
	return errors.Join(errs...)
}

// Risk classifies s against t.
func (t RiskThresholds) Risk(s types.ScoreSet) RiskLevel {
	switch {
	case s.Average < t.HighAverage || s.Emotion < t.HighEmotion:
		return RiskHigh
	case s.Average < t.MediumAverage || s.Emotion < t.MediumEmotion:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Feedback returns the caregiver-facing description of an emotion score.
func Feedback(emotionScore float64) string {
	switch {
	case emotionScore >= 80:
		return "매우 안정적인 감정 상태"
	case emotionScore >= 70:
		return "안정적인 감정 상태"
	case emotionScore >= 50:
		return "주의가 필요한 감정 상태"
	case emotionScore >= 30:
		return "불안정한 감정 상태 - 관심 필요"
	default:
		return "매우 불안정한 감정 상태 - 즉시 관심 필요"
	}
}
