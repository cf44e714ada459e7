package segmenter

import (
	"testing"
	"time"

	"github.com/transflow/transflow/pkg/frames"
	"github.com/transflow/transflow/pkg/vad"
)

const frameDur = 20 * time.Millisecond

func testConfig() Config {
	return Config{
		TargetDuration: time.Second,
		MaxDuration:    2 * time.Second,
		OverlapTail:    100 * time.Millisecond,
		MinSpeech:      100 * time.Millisecond,
		StallTimeout:   time.Second,
	}
}

func audioFrame(seq uint64) frames.AudioFrame {
	samples := int(frameDur.Seconds() * 16000)
	data := make([]byte, samples*2)
	pts := int64(seq) * int64(frameDur)
	return frames.NewAudioFrame("sess-1", seq, pts, data, 16000, 1,
		map[string]string{frames.MetaSource: frames.SourceSystem})
}

func speech() vad.Decision  { return vad.Decision{Speech: true} }
func silence() vad.Decision { return vad.Decision{Speech: false} }

func TestSpeechEndClosesSegment(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	seq := uint64(0)
	for i := 0; i < 20; i++ {
		seq++
		if seg := b.Push(audioFrame(seq), speech()); seg != nil {
			t.Fatalf("unexpected close mid-speech at frame %d", seq)
		}
	}
	seq++
	seg := b.Push(audioFrame(seq), vad.Decision{Speech: false, Changed: true})
	if seg == nil {
		t.Fatalf("speech end should close the segment")
	}
	if !seg.IsSpeech {
		t.Fatalf("segment with 400ms of speech should be tagged speech")
	}
	if seg.StartSeq != 1 || seg.EndSeq != seq {
		t.Fatalf("segment range [%d,%d], want [1,%d]", seg.StartSeq, seg.EndSeq, seq)
	}
	if seg.ForceClosed || seg.Stalled {
		t.Fatalf("natural close should not carry force/stall flags: %+v", seg)
	}
}

func TestTargetDurationClosesAtSilence(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	var seg *Segment
	var seq uint64
	for seg == nil {
		seq++
		if seq > 200 {
			t.Fatalf("no segment after %d silence frames", seq)
		}
		seg = b.Push(audioFrame(seq), silence())
	}
	if seg.IsSpeech {
		t.Fatalf("pure silence segment tagged as speech")
	}
	if d := seg.Duration(); d < time.Second || d > time.Second+frameDur {
		t.Fatalf("expected close near target duration, got %v", d)
	}
}

func TestMaxDurationForceCloseSeedsOverlap(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	var first *Segment
	var seq uint64
	for first == nil {
		seq++
		if seq > 300 {
			t.Fatalf("no force close under continuous speech")
		}
		first = b.Push(audioFrame(seq), speech())
	}
	if !first.ForceClosed {
		t.Fatalf("continuous speech should force-close at max duration")
	}
	if first.Overlap != 0 {
		t.Fatalf("first segment should carry no overlap, got %v", first.Overlap)
	}

	var second *Segment
	for second == nil {
		seq++
		second = b.Push(audioFrame(seq), speech())
	}
	if second.Overlap != 100*time.Millisecond {
		t.Fatalf("second segment overlap %v, want 100ms", second.Overlap)
	}
	if second.StartSeq != first.EndSeq+1 {
		t.Fatalf("sequence ranges must stay disjoint: %d vs %d", second.StartSeq, first.EndSeq)
	}
	// Seeded tail plus fresh audio.
	wantDur := 2*time.Second + 100*time.Millisecond
	if d := second.Duration(); d < wantDur || d > wantDur+frameDur {
		t.Fatalf("second segment duration %v, want ~%v", d, wantDur)
	}
}

func TestStallFlush(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	for seq := uint64(1); seq <= 10; seq++ {
		b.Push(audioFrame(seq), speech())
	}
	if seg := b.Tick(time.Now()); seg != nil {
		t.Fatalf("tick before stall timeout flushed: %+v", seg)
	}
	seg := b.Tick(time.Now().Add(2 * time.Second))
	if seg == nil {
		t.Fatalf("stall timeout should flush the buffer")
	}
	if !seg.Stalled {
		t.Fatalf("stall flush must be marked")
	}
	if again := b.Tick(time.Now().Add(4 * time.Second)); again != nil {
		t.Fatalf("idle buffer should not flush twice")
	}
}

func TestSequenceGapClosesAndMarks(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	for seq := uint64(1); seq <= 10; seq++ {
		if seg := b.Push(audioFrame(seq), speech()); seg != nil {
			t.Fatalf("unexpected close at frame %d", seq)
		}
	}
	seg := b.Push(audioFrame(15), speech())
	if seg == nil {
		t.Fatalf("sequence gap should close the open segment")
	}
	if seg.EndSeq != 10 {
		t.Fatalf("closed segment should end before the gap, got %d", seg.EndSeq)
	}
	next := b.Flush()
	if next == nil || !next.GapBefore {
		t.Fatalf("segment after a gap must be marked: %+v", next)
	}
	if next.StartSeq != 15 {
		t.Fatalf("post-gap segment starts at %d, want 15", next.StartSeq)
	}
}

func TestFlushCoversAllFrames(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	var segs []*Segment
	var seq uint64
	push := func(dec vad.Decision) {
		seq++
		if seg := b.Push(audioFrame(seq), dec); seg != nil {
			segs = append(segs, seg)
		}
	}
	for i := 0; i < 30; i++ {
		push(speech())
	}
	push(vad.Decision{Speech: false, Changed: true})
	for i := 0; i < 80; i++ {
		push(silence())
	}
	for i := 0; i < 40; i++ {
		push(speech())
	}
	if final := b.Flush(); final != nil {
		segs = append(segs, final)
	}

	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}
	want := uint64(1)
	for i, s := range segs {
		if s.StartSeq != want {
			t.Fatalf("segment %d starts at %d, want %d", i, s.StartSeq, want)
		}
		if s.EndSeq < s.StartSeq {
			t.Fatalf("segment %d has inverted range", i)
		}
		want = s.EndSeq + 1
	}
	if want != seq+1 {
		t.Fatalf("coverage ends at %d, want %d", want-1, seq)
	}
}

func TestFlushIdleReturnsNil(t *testing.T) {
	b := NewBuffer("sess-1", frames.SourceSystem, testConfig())
	if seg := b.Flush(); seg != nil {
		t.Fatalf("flush of empty buffer returned %+v", seg)
	}
}
