package vad

import (
	"errors"
	"math"
	"testing"
)

const frameSamples = 320 // 20ms at 16kHz

func toneFrame(amp float64) []byte {
	// 200 Hz tone: high energy, low zero-crossing rate, like voiced speech.
	out := make([]byte, frameSamples*2)
	for i := 0; i < frameSamples; i++ {
		s := amp * math.Sin(2*math.Pi*200*float64(i)/16000)
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func silenceFrame() []byte {
	return make([]byte, frameSamples*2)
}

func newTestDetector(secondary Engine) *Detector {
	return NewDetector(Config{
		DebounceFrames: 3,
		HangoverFrames: 5,
	}, secondary)
}

func TestImpulseShorterThanDebounceNeverStartsSpeech(t *testing.T) {
	d := newTestDetector(nil)
	for i := 0; i < 20; i++ {
		d.Classify(silenceFrame())
	}
	dec := d.Classify(toneFrame(0.5))
	if dec.Speech {
		t.Fatalf("single impulse frame flipped state to speech")
	}
	d.Classify(silenceFrame())
	if d.Speaking() {
		t.Fatalf("detector stuck speaking after impulse")
	}
}

func TestSpeechStartAfterDebounce(t *testing.T) {
	d := newTestDetector(nil)
	for i := 0; i < 20; i++ {
		d.Classify(silenceFrame())
	}
	var last Decision
	for i := 0; i < 3; i++ {
		last = d.Classify(toneFrame(0.5))
	}
	if !last.Speech || !last.Changed {
		t.Fatalf("expected speech start on third consecutive frame, got %+v", last)
	}
}

func TestShortGapDoesNotEndSpeech(t *testing.T) {
	d := newTestDetector(nil)
	for i := 0; i < 20; i++ {
		d.Classify(silenceFrame())
	}
	for i := 0; i < 3; i++ {
		d.Classify(toneFrame(0.5))
	}
	if !d.Speaking() {
		t.Fatalf("detector should be speaking")
	}
	// Gap shorter than the hangover.
	for i := 0; i < 4; i++ {
		if dec := d.Classify(silenceFrame()); !dec.Speech {
			t.Fatalf("short silence gap ended speech at frame %d", i)
		}
	}
	// Full hangover ends it.
	var last Decision
	d.Classify(toneFrame(0.5))
	for i := 0; i < 5; i++ {
		last = d.Classify(silenceFrame())
	}
	if last.Speech || !last.Changed {
		t.Fatalf("expected speech end after hangover, got %+v", last)
	}
}

func TestAdaptiveFloorTracksAmbientNoise(t *testing.T) {
	d := newTestDetector(nil)
	// Constant moderate tone: above the static threshold, but the
	// adaptive floor should rise above it once history fills.
	for i := 0; i < 40; i++ {
		d.Classify(toneFrame(0.05))
	}
	if d.Speaking() {
		t.Fatalf("constant ambient level should not register as speech")
	}
	// A genuinely louder signal still gets through.
	for i := 0; i < 3; i++ {
		d.Classify(toneFrame(0.6))
	}
	if !d.Speaking() {
		t.Fatalf("loud signal over ambient floor should register as speech")
	}
}

type stubEngine struct {
	speech bool
	conf   float64
	err    error
}

func (s stubEngine) Classify([]byte) (bool, float64, error) {
	return s.speech, s.conf, s.err
}

func TestSecondaryEngineOverridesHeuristic(t *testing.T) {
	d := newTestDetector(stubEngine{speech: true, conf: 0.9})
	var last Decision
	for i := 0; i < 3; i++ {
		last = d.Classify(silenceFrame())
	}
	if !last.Speech {
		t.Fatalf("secondary engine decision should win, got %+v", last)
	}
	if last.Confidence != 0.9 {
		t.Fatalf("expected engine confidence, got %f", last.Confidence)
	}
}

func TestSecondaryEngineErrorFallsBackToHeuristic(t *testing.T) {
	d := newTestDetector(stubEngine{speech: true, err: errors.New("model load failed")})
	for i := 0; i < 20; i++ {
		if dec := d.Classify(silenceFrame()); dec.Speech {
			t.Fatalf("heuristic fallback misclassified silence")
		}
	}
}

func TestResetClearsState(t *testing.T) {
	d := newTestDetector(nil)
	for i := 0; i < 20; i++ {
		d.Classify(silenceFrame())
	}
	for i := 0; i < 3; i++ {
		d.Classify(toneFrame(0.5))
	}
	if !d.Speaking() {
		t.Fatalf("precondition: speaking")
	}
	d.Reset()
	if d.Speaking() {
		t.Fatalf("reset should clear speaking state")
	}
	if dec := d.Classify(toneFrame(0.5)); dec.Speech {
		t.Fatalf("debounce should apply again after reset")
	}
}
