package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a capture stream to the canonical pipeline format.
// Push-style: callers feed raw chunks in capture order and receive
// canonical s16le mono 16 kHz bytes back. Not safe for concurrent use;
// each capture stream owns its own Resampler.
type Resampler struct {
	src   Format
	inner resampling.Resampler
}

func NewResampler(src Format) (*Resampler, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("resampler source format: %w", err)
	}
	r := &Resampler{src: src}
	if src.SampleRate != CanonicalRate {
		inner, err := resampling.New(&resampling.Config{
			InputRate:  float64(src.SampleRate),
			OutputRate: float64(CanonicalRate),
			Channels:   CanonicalChannels,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("create resampler: %w", err)
		}
		r.inner = inner
	}
	return r, nil
}

// Process converts one chunk. The returned slice may be shorter or
// longer than an exact rate conversion of the input because the
// underlying filter buffers samples across calls.
func (r *Resampler) Process(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	samples, err := decodeSamples(raw, r.src)
	if err != nil {
		return nil, err
	}
	if r.inner == nil {
		return encodeS16(samples), nil
	}
	out, err := r.inner.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return encodeS16(out), nil
}
