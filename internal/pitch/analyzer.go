package pitch

import (
	"fmt"
	"log/slog"

	"github.com/cho1y0/neulbom/pkg/audio"
	"github.com/cho1y0/neulbom/pkg/types"
)

// Degraded reasons reported on [types.PitchStat].
const (
	ReasonNoAudio        = "no audio"
	ReasonTooFewVoiced   = "too few voiced frames"
	ReasonAnalysisFailed = "analysis failed"
)

// Analyzer turns a clip into a [types.PitchStat]. It is safe for concurrent
// use.
type Analyzer struct {
	tracker  *Tracker
	sigmaMin float64
}

// NewAnalyzer returns an Analyzer. A non-positive sigmaMin selects
// [DefaultSigmaMin].
func NewAnalyzer(sigmaMin float64, opts ...TrackerOption) *Analyzer {
	if sigmaMin <= 0 {
		sigmaMin = DefaultSigmaMin
	}
	return &Analyzer{tracker: NewTracker(opts...), sigmaMin: sigmaMin}
}

// Analyze computes the pitch statistic for clip. It never returns an error:
// any failure degrades to a zero z-peak with the reason recorded.
func (a *Analyzer) Analyze(clip audio.Clip) (stat types.PitchStat) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pitch: analysis panicked", "panic", fmt.Sprint(r))
			stat = types.PitchStat{Degraded: ReasonAnalysisFailed}
		}
	}()

	if len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return types.PitchStat{Degraded: ReasonNoAudio}
	}

	f0 := a.tracker.Track(clip.Float64(), clip.SampleRate)
	voiced := Voiced(f0)
	if len(voiced) < MinVoicedFrames {
		return types.PitchStat{VoicedFrames: len(voiced), Degraded: ReasonTooFewVoiced}
	}
	return types.PitchStat{
		ZPeak:        ZPeak(voiced, a.sigmaMin),
		VoicedFrames: len(voiced),
	}
}
