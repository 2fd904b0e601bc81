package analysis

import (
	"math"
	"strings"
	"unicode"

	"github.com/cho1y0/neulbom/pkg/types"
)

// secondsPerWord is the speaking time credited to each word when estimating
// silence inside an utterance.
const secondsPerWord = 0.5

// NewTranscript derives the behavioural metrics for text spoken over
// durationSec seconds. responseTimeSec may be nil when no first-word latency
// was measured.
func NewTranscript(text string, durationSec float64, responseTimeSec *float64) types.Transcript {
	if durationSec < 0 || math.IsNaN(durationSec) {
		durationSec = 0
	}
	words := strings.Fields(text)
	n := len(words)

	var wpm float64
	if durationSec > 0 {
		wpm = float64(n) / durationSec * 60
	}

	silence := math.Max(0, durationSec-float64(n)*secondsPerWord)

	vpr := durationSec * 100
	if silence > 0 {
		vpr = durationSec / (silence + 0.01)
	}

	var rt *float64
	if responseTimeSec != nil {
		v := *responseTimeSec
		rt = &v
	}

	return types.Transcript{
		Text:            strings.TrimSpace(text),
		WordCount:       n,
		DurationSec:     durationSec,
		WPM:             wpm,
		AvgSilenceSec:   silence,
		VPR:             vpr,
		TTR:             TypeTokenRatio(text),
		ResponseTimeSec: rt,
	}
}

// TypeTokenRatio returns unique tokens over total tokens. Tokens are the
// whitespace-separated words of text with surrounding punctuation removed.
func TypeTokenRatio(text string) float64 {
	var total int
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		tok := strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
		if tok == "" {
			continue
		}
		total++
		seen[tok] = struct{}{}
	}
	if total == 0 {
		return 0
	}
	return float64(len(seen)) / float64(total)
}

// Preview truncates text to at most n runes, appending "..." when cut.
func Preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
