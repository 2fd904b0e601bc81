// Package pitch measures pitch dynamics of a recorded utterance.
//
// A [Tracker] estimates a fundamental-frequency (F0) contour frame by frame
// using normalised autocorrelation. [ZPeak] reduces that contour to a single
// peak-excitation statistic: the largest absolute z-score of any voiced frame
// relative to the utterance's own pitch distribution. [Analyzer] combines the
// two and never fails; malformed input yields a degraded zero result.
package pitch

import "math"

const (
	// DefaultFMin is the lowest F0 considered voiced (C2).
	DefaultFMin = 65.41

	// DefaultFMax is the highest F0 considered voiced (C7).
	DefaultFMax = 2093.0

	// DefaultVoicingThreshold is the minimum normalised autocorrelation peak
	// for a frame to count as voiced.
	DefaultVoicingThreshold = 0.5

	// DefaultSilenceRMS is the frame energy below which a frame is treated as
	// silence without running the correlation search.
	DefaultSilenceRMS = 0.01
)

// Tracker estimates an F0 contour. The zero value is not usable; construct
// with [NewTracker].
type Tracker struct {
	fmin       float64
	fmax       float64
	voicing    float64
	silenceRMS float64
}

// TrackerOption configures a [Tracker].
type TrackerOption func(*Tracker)

// WithRange restricts the search to [fmin, fmax] Hz.
func WithRange(fmin, fmax float64) TrackerOption {
	return func(t *Tracker) {
		if fmin > 0 && fmax > fmin {
			t.fmin = fmin
			t.fmax = fmax
		}
	}
}

// WithVoicingThreshold sets the minimum correlation peak for a voiced frame.
func WithVoicingThreshold(v float64) TrackerOption {
	return func(t *Tracker) {
		if v > 0 && v < 1 {
			t.voicing = v
		}
	}
}

// NewTracker returns a Tracker covering the C2–C7 range.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		fmin:       DefaultFMin,
		fmax:       DefaultFMax,
		voicing:    DefaultVoicingThreshold,
		silenceRMS: DefaultSilenceRMS,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// FrameSize returns the analysis window length for sampleRate: the smallest
// power of two holding three periods of the lowest F0.
func (t *Tracker) FrameSize(sampleRate int) int {
	need := int(math.Ceil(3 * float64(sampleRate) / t.fmin))
	n := 1
	for n < need {
		n <<= 1
	}
	return n
}

// Track returns one F0 estimate per hop. Unvoiced frames are NaN.
func (t *Tracker) Track(samples []float64, sampleRate int) []float64 {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}
	frame := t.FrameSize(sampleRate)
	hop := frame / 4
	if hop < 1 {
		hop = 1
	}
	if len(samples) < frame {
		return nil
	}

	minLag := int(math.Floor(float64(sampleRate) / t.fmax))
	if minLag < 2 {
		minLag = 2
	}
	maxLag := int(math.Ceil(float64(sampleRate) / t.fmin))
	if maxLag >= frame/2 {
		maxLag = frame/2 - 1
	}

	out := make([]float64, 0, (len(samples)-frame)/hop+1)
	corr := make([]float64, maxLag+2)
	for start := 0; start+frame <= len(samples); start += hop {
		out = append(out, t.estimate(samples[start:start+frame], sampleRate, minLag, maxLag, corr))
	}
	return out
}

// estimate returns the F0 of one frame or NaN when the frame is unvoiced.
func (t *Tracker) estimate(x []float64, sampleRate, minLag, maxLag int, corr []float64) float64 {
	var energy float64
	for _, v := range x {
		energy += v * v
	}
	if math.Sqrt(energy/float64(len(x))) < t.silenceRMS {
		return math.NaN()
	}

	for lag := minLag - 1; lag <= maxLag+1; lag++ {
		corr[lag] = normalisedCorrelation(x, lag)
	}

	// Global best over the search range, then the shortest-lag local peak
	// close to it. Picking the global maximum alone halves the pitch
	// whenever a multiple of the period correlates marginally better.
	best := math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		if corr[lag] > best {
			best = corr[lag]
		}
	}
	if best < t.voicing {
		return math.NaN()
	}

	chosen := -1
	for lag := minLag; lag <= maxLag; lag++ {
		c := corr[lag]
		if c >= corr[lag-1] && c >= corr[lag+1] && c >= 0.9*best {
			chosen = lag
			break
		}
	}
	if chosen < 0 {
		return math.NaN()
	}

	period := float64(chosen) + parabolicOffset(corr[chosen-1], corr[chosen], corr[chosen+1])
	if period <= 0 {
		return math.NaN()
	}
	f0 := float64(sampleRate) / period
	if f0 < t.fmin || f0 > t.fmax {
		return math.NaN()
	}
	return f0
}

// normalisedCorrelation is the Pearson-style autocorrelation of x at lag.
func normalisedCorrelation(x []float64, lag int) float64 {
	n := len(x) - lag
	if n <= 0 {
		return 0
	}
	var num, e0, e1 float64
	for i := range n {
		a, b := x[i], x[i+lag]
		num += a * b
		e0 += a * a
		e1 += b * b
	}
	den := math.Sqrt(e0 * e1)
	if den == 0 {
		return 0
	}
	return num / den
}

// parabolicOffset refines a peak position from its two neighbours. The
// result lies in [-0.5, 0.5].
func parabolicOffset(left, centre, right float64) float64 {
	den := left - 2*centre + right
	if den == 0 {
		return 0
	}
	off := 0.5 * (left - right) / den
	if off > 0.5 {
		return 0.5
	}
	if off < -0.5 {
		return -0.5
	}
	return off
}
