package audio

import (
	"encoding/binary"
	"time"
)

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Float32ToPCM16 converts normalised float32 samples to 16-bit signed
// little-endian PCM, clamping values outside [-1.0, 1.0].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// To16k returns clip resampled to [SampleRate16k].
func To16k(clip Clip) Clip {
	if clip.SampleRate == SampleRate16k {
		return clip
	}
	return Clip{
		Samples:    Resample(clip.Samples, clip.SampleRate, SampleRate16k),
		SampleRate: SampleRate16k,
	}
}

// FitWindow zero-pads or truncates clip to exactly window of audio.
func FitWindow(clip Clip, window time.Duration) Clip {
	want := int(int64(clip.SampleRate) * int64(window) / int64(time.Second))
	if want <= 0 {
		return Clip{SampleRate: clip.SampleRate}
	}
	out := make([]float32, want)
	copy(out, clip.Samples)
	return Clip{Samples: out, SampleRate: clip.SampleRate}
}
