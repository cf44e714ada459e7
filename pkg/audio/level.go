package audio

import "math"

// LevelMeter tracks a smoothed RMS level for a capture stream,
// reported in [0, 1] for UI level bars.
type LevelMeter struct {
	smoothing float64
	level     float64
	primed    bool
}

func NewLevelMeter(smoothing float64) *LevelMeter {
	if smoothing <= 0 || smoothing >= 1 {
		smoothing = 0.7
	}
	return &LevelMeter{smoothing: smoothing}
}

// Push folds one canonical s16le chunk into the running level and
// returns the updated value.
func (m *LevelMeter) Push(pcm []byte) float64 {
	rms := RMS(pcm)
	if !m.primed {
		m.level = rms
		m.primed = true
		return m.level
	}
	m.level = m.smoothing*m.level + (1-m.smoothing)*rms
	return m.level
}

func (m *LevelMeter) Level() float64 {
	return m.level
}

// RMS computes the root mean square of canonical s16le data.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(uint16(pcm[i*2])|uint16(pcm[i*2+1])<<8)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
