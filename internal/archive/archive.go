// Package archive stores raw recordings for later review.
package archive

import (
	"context"
	"fmt"
	"time"
)

// Archiver stores one recording and returns its location.
type Archiver interface {
	Archive(ctx context.Context, key string, wav []byte) (string, error)
}

// Key returns the object key of a recording:
// recordings/<senior>/<yyyy>/<mm>/<dd>/<job>.wav (UTC).
func Key(seniorID int64, jobID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("recordings/%d/%04d/%02d/%02d/%s.wav", seniorID, at.Year(), int(at.Month()), at.Day(), jobID)
}
