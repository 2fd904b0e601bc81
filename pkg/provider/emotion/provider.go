// Package emotion defines the Classifier interface for emotion-recognition
// backends.
//
// A classifier wraps one inference model, either over transcript text or over
// raw speech audio, and reports the top label in the model's own vocabulary
// together with the full probability distribution. Translating native labels
// into the canonical vocabulary is the fusion engine's job, not the
// classifier's.
//
// Implementations must be safe for concurrent use.
package emotion

import (
	"context"
	"errors"
	"sort"

	"github.com/cho1y0/neulbom/pkg/types"
)

// ErrEmptyInput is returned when the input carries nothing to classify.
var ErrEmptyInput = errors.New("emotion: empty input")

// Input is a single classification request. Text classifiers read Text;
// audio classifiers read Audio at SampleRate.
type Input struct {
	Text string

	// Audio holds mono samples normalised to [-1.0, 1.0].
	Audio      []float32
	SampleRate int
}

// Classifier is the abstraction over any emotion-recognition model.
type Classifier interface {
	// Classify returns the model's output for in. Errors are returned for
	// transport failures and malformed model responses.
	Classify(ctx context.Context, in Input) (types.ClassifierOutput, error)
}

// Prediction is one label/score pair as reported by an inference backend.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// FromPredictions builds a ClassifierOutput from an unordered list of
// predictions. The highest score wins; ties keep the first seen.
func FromPredictions(preds []Prediction) (types.ClassifierOutput, error) {
	if len(preds) == 0 {
		return types.ClassifierOutput{}, errors.New("emotion: model returned no predictions")
	}
	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	dist := make(map[string]float64, len(preds))
	for _, p := range preds {
		dist[p.Label] += p.Score
	}
	return types.ClassifierOutput{
		Label:        sorted[0].Label,
		Confidence:   sorted[0].Score,
		Distribution: dist,
	}, nil
}
