// Package mock provides a test double for emotion.Classifier.
package mock

import (
	"context"
	"sync"

	"github.com/cho1y0/neulbom/pkg/provider/emotion"
	"github.com/cho1y0/neulbom/pkg/types"
)

// ClassifyCall records a single invocation of Classifier.Classify.
type ClassifyCall struct {
	Input emotion.Input
}

// Classifier is a mock implementation of emotion.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Output is returned from every Classify call unless Err is set.
	Output types.ClassifierOutput

	// Err, if non-nil, is returned from Classify.
	Err error

	// Calls records every call to Classify.
	Calls []ClassifyCall
}

// Classify records the call and returns Output, Err.
func (c *Classifier) Classify(ctx context.Context, in emotion.Input) (types.ClassifierOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, ClassifyCall{Input: in})
	if err := ctx.Err(); err != nil {
		return types.ClassifierOutput{}, err
	}
	if c.Err != nil {
		return types.ClassifierOutput{}, c.Err
	}
	return c.Output, nil
}

// CallCount returns the number of Classify calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

var _ emotion.Classifier = (*Classifier)(nil)
