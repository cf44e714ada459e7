package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonTranscribeSubmit    ReasonCode = "transcribe_submit"
	ReasonTranscribeRetry     ReasonCode = "transcribe_retry"
	ReasonTranscribeRateLimit ReasonCode = "transcribe_rate_limit"
	ReasonTranscribeTimeout   ReasonCode = "transcribe_timeout"
	ReasonSegmentEmpty        ReasonCode = "segment_empty"
	ReasonSegmentTooLong      ReasonCode = "segment_too_long"
	ReasonUnsupportedLanguage ReasonCode = "unsupported_language"
	ReasonMalformedAudio      ReasonCode = "malformed_audio"

	ReasonTranslateRequest   ReasonCode = "translate_request"
	ReasonTranslateRetry     ReasonCode = "translate_retry"
	ReasonTranslateRateLimit ReasonCode = "translate_rate_limit"

	ReasonCaptureStall    ReasonCode = "capture_stall"
	ReasonSessionProtocol ReasonCode = "session_protocol"
	ReasonSessionDead     ReasonCode = "session_dead"
	ReasonTransportSend   ReasonCode = "transport_send"
)

// transientReasons are retried with backoff; everything else is surfaced
// immediately.
var transientReasons = map[ReasonCode]bool{
	ReasonTranscribeSubmit:    true,
	ReasonTranscribeRateLimit: true,
	ReasonTranscribeTimeout:   true,
	ReasonTranslateRequest:    true,
	ReasonTranslateRateLimit:  true,
	ReasonCaptureStall:        true,
	ReasonTransportSend:       true,
}
