// Package store defines persistence for analysed turns.
//
// Every turn is written as a voice log row and an analysis row keyed to it,
// in one transaction. Persistence is best-effort from the orchestrator's
// point of view: a failed save never changes the analysis returned to the
// caller.
package store

import (
	"context"
	"errors"
	"math"

	"github.com/cho1y0/neulbom/pkg/types"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrNotConfigured is returned by callers that hold no Store.
	ErrNotConfigured = errors.New("store: not configured")
)

// Record is one analysed turn to persist.
type Record struct {
	SeniorID int64

	// SensingID correlates the turn with a sensor event. Zero means none.
	SensingID int64

	Transcript types.Transcript
	Decision   types.FusionDecision

	// Policy is the behaviour policy applied to the reply (the risk level).
	Policy string
}

// Store persists turns and answers history queries.
type Store interface {
	// SaveTurn writes r and returns the new voice id.
	SaveTurn(ctx context.Context, r Record) (int64, error)

	// RecentAnalyses returns up to limit turns for seniorID, newest first.
	RecentAnalyses(ctx context.Context, seniorID int64, limit int) ([]types.AnalysisRecord, error)

	// LatestSensingID returns the id of the newest sensor event, or
	// [ErrNotFound] when there is none.
	LatestSensingID(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// RatioColumns maps the stored per-label ratio columns to canonical labels,
// in column order.
var RatioColumns = []struct {
	Column string
	Label  types.EmotionLabel
}{
	{"hap_ratio", types.EmotionHappiness},
	{"sad_ratio", types.EmotionSadness},
	{"neu_ratio", types.EmotionNeutral},
	{"ang_ratio", types.EmotionAnger},
	{"anxi_ratio", types.EmotionAnxiety},
	{"emba_ratio", types.EmotionEmbarrassment},
	{"heart_ratio", types.EmotionHurt},
}

// Ratios returns the candidate percentages of d in [RatioColumns] order.
// Labels the classifier did not produce are stored as 0.
func Ratios(d types.FusionDecision) []float64 {
	out := make([]float64, len(RatioColumns))
	for i, c := range RatioColumns {
		out[i] = d.Candidates[c.Label]
	}
	return out
}

// Round1 rounds v to one decimal, the precision of the stored timing columns.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// ResponseTime returns the rounded response time of t, or nil when it was
// not measured.
func ResponseTime(t types.Transcript) *float64 {
	if t.ResponseTimeSec == nil {
		return nil
	}
	v := Round1(*t.ResponseTimeSec)
	return &v
}

// NormalizeLimit clamps a history page size to [1, 100], defaulting to 10.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 100:
		return 100
	default:
		return limit
	}
}
