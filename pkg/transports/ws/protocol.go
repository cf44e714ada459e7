package ws

import (
	"encoding/json"
	"time"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound control events use the client's camelCase field names.

// StartRequest configures and starts a recording in one message.
type StartRequest struct {
	AudioDevice        string `json:"audioDevice"`
	CaptureSystemAudio bool   `json:"captureSystemAudio"`
	SourceLanguage     string `json:"sourceLanguage"`
	TargetLanguage     string `json:"targetLanguage"`
}

type setLanguagesRequest struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

type heartbeatRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type audioDataRequest struct {
	Source     string `json:"source"`
	Data       []byte `json:"data"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Outbound result events.

type connectionStatusPayload struct {
	ClientID string `json:"clientId"`
}

type recordingStatusPayload struct {
	Status string `json:"status"`
}

type transcriptionPayload struct {
	Text      string `json:"text"`
	Language  string `json:"language"`
	Timestamp int64  `json:"timestamp"`
	Final     bool   `json:"final"`
}

type translationPayload struct {
	SourceText     string `json:"source_text"`
	Translation    string `json:"translation"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Timestamp      int64  `json:"timestamp"`
	Error          string `json:"error,omitempty"`
}

type languagesUpdatedPayload struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type audioLevelPayload struct {
	Source    string  `json:"source"`
	Level     float64 `json:"level"`
	Timestamp int64   `json:"timestamp"`
}

type heartbeatResponsePayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
	LatencyMS       int64 `json:"latency_ms"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func ptsMillis(pts int64) int64 {
	return pts / int64(time.Millisecond)
}
