package metrics

import "time"

// Event names emitted by the audio pipeline. Values are durations in
// milliseconds unless stated otherwise.
const (
	EventSegmentClosed  = "segment_closed"
	EventTranscribeDone = "transcribe_done"
	EventTranslateDone  = "translate_done"
	EventTranslateCache = "translate_cache_hit"
	EventAudioLevel     = "audio_level"
	EventQueueDepth     = "queue_depth"
	EventSessionReaped  = "session_reaped"
)

func StageEvent(name, sessionID, source string, elapsed time.Duration) MetricsEvent {
	return MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(elapsed.Milliseconds()),
		Tags: map[string]string{
			"session_id": sessionID,
			"source":     source,
		},
	}
}

// LevelEvent reports the RMS level of a capture stream, value in [0,1].
func LevelEvent(sessionID, source string, level float64) MetricsEvent {
	return MetricsEvent{
		Name:  EventAudioLevel,
		Time:  time.Now(),
		Value: level,
		Tags: map[string]string{
			"session_id": sessionID,
			"source":     source,
		},
	}
}
