package audio

import (
	"fmt"
	"math"
	"time"

	"github.com/transflow/transflow/pkg/errorsx"
)

// SampleFormat identifies the sample encoding of raw capture data.
type SampleFormat string

const (
	FormatS16LE SampleFormat = "s16le"
	FormatF32LE SampleFormat = "f32le"
	FormatS32LE SampleFormat = "s32le"
)

// Canonical pipeline format. Everything downstream of the resampler
// assumes 16 kHz mono signed 16-bit little-endian.
const (
	CanonicalRate     = 16000
	CanonicalChannels = 1
)

// Format describes a raw PCM stream.
type Format struct {
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
}

func (f Format) sampleBytes() int {
	switch f.SampleFormat {
	case FormatF32LE, FormatS32LE:
		return 4
	default:
		return 2
	}
}

func (f Format) frameBytes() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.sampleBytes() * ch
}

// Validate rejects formats the pipeline cannot convert.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate %d is invalid", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("channel count %d is unsupported", f.Channels)
	}
	switch f.SampleFormat {
	case FormatS16LE, FormatF32LE, FormatS32LE:
		return nil
	default:
		return fmt.Errorf("sample format %q is unsupported", f.SampleFormat)
	}
}

// CanonicalFormat returns the pipeline's internal format.
func CanonicalFormat() Format {
	return Format{SampleRate: CanonicalRate, Channels: CanonicalChannels, SampleFormat: FormatS16LE}
}

// DurationOf reports the play time of canonical s16le mono data.
func DurationOf(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / CanonicalRate
}

// decodeSamples converts raw bytes in the given format to normalized
// float64 mono samples in [-1, 1]. Stereo input is downmixed by
// averaging the channels.
func decodeSamples(raw []byte, f Format) ([]float64, error) {
	fb := f.frameBytes()
	if len(raw)%fb != 0 {
		return nil, errorsx.Wrap(
			fmt.Errorf("payload of %d bytes is not frame aligned (frame size %d)", len(raw), fb),
			errorsx.ReasonMalformedAudio,
		)
	}
	frames := len(raw) / fb
	out := make([]float64, frames)
	sb := f.sampleBytes()
	for i := 0; i < frames; i++ {
		var acc float64
		for c := 0; c < f.Channels; c++ {
			off := i*fb + c*sb
			acc += decodeOne(raw[off:off+sb], f.SampleFormat)
		}
		out[i] = acc / float64(f.Channels)
	}
	return out, nil
}

func decodeOne(b []byte, sf SampleFormat) float64 {
	switch sf {
	case FormatF32LE:
		bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		return float64(math.Float32frombits(bits))
	case FormatS32LE:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
		return float64(v) / 2147483648.0
	default:
		v := int16(uint16(b[0]) | uint16(b[1])<<8)
		return float64(v) / 32768.0
	}
}

// encodeS16 converts normalized float64 samples to s16le bytes,
// clamping anything outside [-1, 1].
func encodeS16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s <= -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodeS16 converts canonical s16le bytes to normalized float64.
func DecodeS16(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = float64(v) / 32768.0
	}
	return out
}
