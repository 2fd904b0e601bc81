package pitch

import "math"

const (
	// DefaultSigmaMin floors the standard deviation so near-monotone voices
	// do not blow up the z-score.
	DefaultSigmaMin = 5.0

	// MinVoicedFrames is the number of voiced frames below which the contour
	// is considered too short to describe.
	MinVoicedFrames = 10
)

// Voiced returns the finite, positive values of f0.
func Voiced(f0 []float64) []float64 {
	out := make([]float64, 0, len(f0))
	for _, v := range f0 {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ZPeak returns max |f − μ| / max(σ, sigmaMin) over the voiced frames of f0,
// or 0 when fewer than [MinVoicedFrames] frames are voiced. σ is the
// population standard deviation.
func ZPeak(f0 []float64, sigmaMin float64) float64 {
	v := Voiced(f0)
	if len(v) < MinVoicedFrames {
		return 0
	}

	var sum float64
	for _, f := range v {
		sum += f
	}
	mean := sum / float64(len(v))

	var ss float64
	for _, f := range v {
		d := f - mean
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(v)))
	if sigma < sigmaMin {
		sigma = sigmaMin
	}
	if sigma == 0 {
		return 0
	}

	var peak float64
	for _, f := range v {
		if z := math.Abs(f-mean) / sigma; z > peak {
			peak = z
		}
	}
	return peak
}
