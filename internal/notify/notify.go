// Package notify delivers caregiver alerts and reports.
package notify

import (
	"context"

	"github.com/cho1y0/neulbom/pkg/types"
)

// Alert describes a turn that needs caregiver attention.
type Alert struct {
	SeniorID  int64
	SessionID string
	JobID     string
	Risk      string
	Text      string
	Emotion   types.EmotionLabel
	Scores    types.ScoreSet
	Feedback  string
}

// Report is a caregiver report for one session.
type Report struct {
	SeniorID  int64
	SessionID string
	Turns     int
	Average   float64
	Body      string
}

// Notifier delivers alerts and reports. Implementations must be safe for
// concurrent use.
type Notifier interface {
	NotifyRisk(ctx context.Context, a Alert) error
	SendReport(ctx context.Context, r Report) error
}
