package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrNotWAV is returned by [DecodeWAV] when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
	wavFormatExt   = 0xFFFE
)

// DecodeWAV parses a RIFF/WAVE file and returns its content down-mixed to
// mono. 8-, 16-, 24- and 32-bit integer PCM and 32-bit float are supported.
func DecodeWAV(r io.Reader) (Clip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: read wav: %w", err)
	}
	return DecodeWAVBytes(data)
}

// DecodeWAVBytes is [DecodeWAV] for an in-memory file.
func DecodeWAVBytes(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		pcm        []byte
		haveFmt    bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Recorders that never patch the header leave a bogus size on
			// the data chunk; take whatever is there.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Clip{}, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", end-body)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format == wavFormatExt && end-body >= 26 {
				format = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		// Chunks are word aligned.
		pos = end + size%2
	}

	if !haveFmt {
		return Clip{}, fmt.Errorf("audio: wav has no fmt chunk")
	}
	if pcm == nil {
		return Clip{}, fmt.Errorf("audio: wav has no data chunk")
	}
	if channels <= 0 || sampleRate <= 0 {
		return Clip{}, fmt.Errorf("audio: wav header invalid (channels=%d rate=%d)", channels, sampleRate)
	}

	samples, err := decodeSamples(pcm, format, bits, channels)
	if err != nil {
		return Clip{}, err
	}
	return Clip{Samples: samples, SampleRate: sampleRate}, nil
}

// decodeSamples converts interleaved little-endian frames to mono float32.
func decodeSamples(pcm []byte, format uint16, bits, channels int) ([]float32, error) {
	width := bits / 8
	if width == 0 {
		return nil, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
	}

	var read func(b []byte) float32
	switch {
	case format == wavFormatPCM && bits == 8:
		read = func(b []byte) float32 { return (float32(b[0]) - 128) / 128 }
	case format == wavFormatPCM && bits == 16:
		read = func(b []byte) float32 { return float32(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case format == wavFormatPCM && bits == 24:
		read = func(b []byte) float32 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			return float32(v) / 8388608
		}
	case format == wavFormatPCM && bits == 32:
		read = func(b []byte) float32 { return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648 }
	case format == wavFormatFloat && bits == 32:
		read = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	default:
		return nil, fmt.Errorf("audio: unsupported wav encoding (format=%d bits=%d)", format, bits)
	}

	frame := width * channels
	n := len(pcm) / frame
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for ch := range channels {
			off := i*frame + ch*width
			sum += read(pcm[off : off+width])
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// EncodeWAV serialises clip as a 16-bit mono PCM RIFF/WAVE file.
func EncodeWAV(clip Clip) []byte {
	pcm := Float32ToPCM16(clip.Samples)
	return EncodePCM16(pcm, clip.SampleRate, 1)
}

// EncodePCM16 wraps raw 16-bit little-endian PCM in a 44-byte WAV header.
func EncodePCM16(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bps))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
