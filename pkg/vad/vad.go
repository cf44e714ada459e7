package vad

import (
	"sort"

	"github.com/transflow/transflow/pkg/audio"
)

// Decision is the debounced classification of one audio frame.
// Speech reflects the detector's current state after debounce and
// hangover; Changed marks the frame on which the state flipped.
type Decision struct {
	Speech     bool
	Confidence float64
	Changed    bool
}

// Engine is an optional secondary classifier. When configured it wins
// over the energy heuristic; the heuristic is the fallback when the
// engine errors.
type Engine interface {
	Classify(pcm []byte) (speech bool, confidence float64, err error)
}

type Config struct {
	EnergyThreshold      float64
	ZCRThreshold         float64
	NoiseFloorMultiplier float64
	HistorySize          int
	DebounceFrames       int
	HangoverFrames       int
}

// Detector classifies canonical s16le frames as speech or silence.
// One Detector per capture stream; it holds no locks and performs no
// I/O, so it is safe on the audio hot path.
type Detector struct {
	cfg       Config
	secondary Engine

	history []float64
	histPos int

	speaking    bool
	speechRun   int
	silenceRun  int
	adaptiveFlr float64
}

func NewDetector(cfg Config, secondary Engine) *Detector {
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = 0.01
	}
	if cfg.ZCRThreshold <= 0 {
		cfg.ZCRThreshold = 0.25
	}
	if cfg.NoiseFloorMultiplier <= 0 {
		cfg.NoiseFloorMultiplier = 2.0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.DebounceFrames <= 0 {
		cfg.DebounceFrames = 10
	}
	if cfg.HangoverFrames <= 0 {
		cfg.HangoverFrames = 30
	}
	return &Detector{
		cfg:         cfg,
		secondary:   secondary,
		history:     make([]float64, 0, cfg.HistorySize),
		adaptiveFlr: cfg.EnergyThreshold,
	}
}

// Classify folds one frame into the detector state.
func (d *Detector) Classify(pcm []byte) Decision {
	energy := audio.RMS(pcm)
	d.updateFloor(energy)

	raw, conf := d.score(pcm, energy)
	return d.debounce(raw, conf)
}

func (d *Detector) score(pcm []byte, energy float64) (bool, float64) {
	if d.secondary != nil {
		if speech, conf, err := d.secondary.Classify(pcm); err == nil {
			return speech, conf
		}
	}
	zcr := zeroCrossingRate(pcm)
	raw := energy > d.adaptiveFlr && zcr < d.cfg.ZCRThreshold
	conf := energy / (2 * d.adaptiveFlr)
	if conf > 1 {
		conf = 1
	}
	return raw, conf
}

func (d *Detector) debounce(raw bool, conf float64) Decision {
	changed := false
	if raw {
		d.speechRun++
		d.silenceRun = 0
		if !d.speaking && d.speechRun >= d.cfg.DebounceFrames {
			d.speaking = true
			changed = true
		}
	} else {
		d.silenceRun++
		d.speechRun = 0
		if d.speaking && d.silenceRun >= d.cfg.HangoverFrames {
			d.speaking = false
			changed = true
		}
	}
	return Decision{Speech: d.speaking, Confidence: conf, Changed: changed}
}

// updateFloor tracks ambient noise as a low percentile of recent frame
// energies so the threshold follows slow changes in room noise.
func (d *Detector) updateFloor(energy float64) {
	if len(d.history) < d.cfg.HistorySize {
		d.history = append(d.history, energy)
	} else {
		d.history[d.histPos] = energy
		d.histPos = (d.histPos + 1) % d.cfg.HistorySize
	}
	if len(d.history) < 10 {
		return
	}
	floor := percentile(d.history, 0.20) * d.cfg.NoiseFloorMultiplier
	if floor < d.cfg.EnergyThreshold {
		floor = d.cfg.EnergyThreshold
	}
	d.adaptiveFlr = floor
}

// Reset clears all state, for reuse across recording runs.
func (d *Detector) Reset() {
	d.history = d.history[:0]
	d.histPos = 0
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
	d.adaptiveFlr = d.cfg.EnergyThreshold
}

func (d *Detector) Speaking() bool {
	return d.speaking
}

func zeroCrossingRate(pcm []byte) float64 {
	n := len(pcm) / 2
	if n < 2 {
		return 0
	}
	crossings := 0
	prev := sampleSign(pcm, 0)
	for i := 1; i < n; i++ {
		s := sampleSign(pcm, i)
		if s != prev {
			crossings++
		}
		prev = s
	}
	return float64(crossings) / float64(2*n)
}

func sampleSign(pcm []byte, i int) int {
	v := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	if v >= 0 {
		return 1
	}
	return -1
}

func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
