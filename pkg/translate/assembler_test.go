package translate

import (
	"strings"
	"testing"
	"time"

	"github.com/transflow/transflow/pkg/transcribe"
)

func frag(text string, start, end int64) transcribe.Fragment {
	return transcribe.Fragment{Text: text, Language: "zh", StartPTS: start, EndPTS: end, Final: true}
}

func TestDelimiterFlushesSentence(t *testing.T) {
	a := NewAssembler(AssemblerConfig{})
	out := a.Feed("sess-1", "system", frag("你好世界。", 100, 200))
	if len(out) != 1 {
		t.Fatalf("expected one sentence, got %d", len(out))
	}
	s := out[0]
	if s.Text != "你好世界。" || s.Reason != FlushDelimiter {
		t.Fatalf("unexpected sentence: %+v", s)
	}
	if s.PTS != 100 {
		t.Fatalf("sentence should carry the first fragment PTS, got %d", s.PTS)
	}
}

func TestTextAfterDelimiterStaysBuffered(t *testing.T) {
	a := NewAssembler(AssemblerConfig{})
	out := a.Feed("sess-1", "system", frag("Hello world. How are", 100, 200))
	if len(out) != 1 || out[0].Text != "Hello world." {
		t.Fatalf("unexpected flush: %+v", out)
	}
	out = a.Feed("sess-1", "system", frag(" you?", 200, 300))
	if len(out) != 1 || out[0].Text != "How are you?" {
		t.Fatalf("buffered tail lost: %+v", out)
	}
}

func TestTimeoutFlushesPartialSentence(t *testing.T) {
	a := NewAssembler(AssemblerConfig{FlushTimeout: time.Second})
	a.Feed("sess-1", "system", frag("still talking without pause", 100, 200))
	if out := a.Tick("sess-1", time.Now()); len(out) != 0 {
		t.Fatalf("tick before timeout flushed: %+v", out)
	}
	out := a.Tick("sess-1", time.Now().Add(2*time.Second))
	if len(out) != 1 || out[0].Reason != FlushTimeout {
		t.Fatalf("expected timeout flush, got %+v", out)
	}
	if out[0].Text != "still talking without pause" {
		t.Fatalf("unexpected flushed text %q", out[0].Text)
	}
}

func TestTickOnlyDrainsRequestedSession(t *testing.T) {
	a := NewAssembler(AssemblerConfig{FlushTimeout: time.Second})
	a.Feed("sess-1", "system", frag("first session speech", 0, 100))
	a.Feed("sess-2", "system", frag("second session speech", 0, 100))

	later := time.Now().Add(2 * time.Second)
	out := a.Tick("sess-1", later)
	if len(out) != 1 || out[0].SessionID != "sess-1" {
		t.Fatalf("expected only sess-1 flushed, got %+v", out)
	}
	out = a.Tick("sess-2", later)
	if len(out) != 1 || out[0].Text != "second session speech" {
		t.Fatalf("other session's unit was stolen or lost: %+v", out)
	}
}

func TestMaxBufferForcesFlush(t *testing.T) {
	a := NewAssembler(AssemblerConfig{MaxBuffer: 10})
	out := a.Feed("sess-1", "system", frag(strings.Repeat("а", 12), 100, 200))
	if len(out) != 1 || out[0].Reason != FlushMaxLength {
		t.Fatalf("expected max length flush, got %+v", out)
	}
}

func TestReplayYieldsSameBoundaries(t *testing.T) {
	script := []transcribe.Fragment{
		frag("第一句话。第二", 0, 100),
		frag("句话还没完", 100, 200),
		frag("，现在完了。剩下", 200, 300),
	}
	run := func() []string {
		a := NewAssembler(AssemblerConfig{})
		var texts []string
		for _, f := range script {
			for _, s := range a.Feed("sess-1", "system", f) {
				texts = append(texts, s.Text)
			}
		}
		return texts
	}
	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("replay produced %d vs %d sentences", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("boundary %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestSourcesAssembleIndependently(t *testing.T) {
	a := NewAssembler(AssemblerConfig{})
	a.Feed("sess-1", "system", frag("system text without end", 0, 100))
	out := a.Feed("sess-1", "microphone", frag("mic sentence.", 0, 100))
	if len(out) != 1 || out[0].Source != "microphone" {
		t.Fatalf("microphone flush should not involve the system unit: %+v", out)
	}
}

func TestFlushSessionDrainsOpenUnits(t *testing.T) {
	a := NewAssembler(AssemblerConfig{})
	a.Feed("sess-1", "system", frag("partial one", 0, 100))
	a.Feed("sess-1", "microphone", frag("partial two", 0, 100))
	a.Feed("sess-2", "system", frag("other session", 0, 100))

	out := a.FlushSession("sess-1")
	if len(out) != 2 {
		t.Fatalf("expected both units drained, got %d", len(out))
	}
	for _, s := range out {
		if s.Reason != FlushForced {
			t.Fatalf("teardown flush reason %q", s.Reason)
		}
	}
	if again := a.FlushSession("sess-1"); len(again) != 0 {
		t.Fatalf("second drain should be empty, got %+v", again)
	}
	if other := a.FlushSession("sess-2"); len(other) != 1 {
		t.Fatalf("other session lost its unit: %+v", other)
	}
}
