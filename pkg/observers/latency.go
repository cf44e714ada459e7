package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/transflow/transflow/pkg/metrics"
)

// LatencyObserver correlates pipeline stage events per session and
// logs one latency line when a translation completes the chain.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	segmentClosed time.Time
	transcribed   time.Time
	translated    time.Time
	transcribeMS  float64
	translateMS   float64
	cacheHit      bool
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[sessionID]
	if t == nil {
		t = &trace{}
		o.traces[sessionID] = t
	}
	switch ev.Name {
	case metrics.EventSegmentClosed:
		if t.segmentClosed.IsZero() {
			t.segmentClosed = ev.Time
		}
	case metrics.EventTranscribeDone:
		if t.transcribed.IsZero() {
			t.transcribed = ev.Time
			t.transcribeMS = ev.Value
		}
	case metrics.EventTranslateDone:
		t.translated = ev.Time
		t.translateMS = ev.Value
	case metrics.EventTranslateCache:
		t.translated = ev.Time
		t.translateMS = ev.Value
		t.cacheHit = true
	}
	if !t.translated.IsZero() {
		o.logChainLocked(sessionID, t)
		delete(o.traces, sessionID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logChainLocked(sessionID string, t *trace) {
	o.log.Info("pipeline_latency",
		"session_id", sessionID,
		"transcribe_ms", t.transcribeMS,
		"translate_ms", t.translateMS,
		"end_to_end_ms", durationMs(t.segmentClosed, t.translated),
		"cache_hit", t.cacheHit,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
