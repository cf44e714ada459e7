package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/transflow/transflow/pkg/audio"
	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/metrics"
	"github.com/transflow/transflow/pkg/priority"
	"github.com/transflow/transflow/pkg/redact"
	"github.com/transflow/transflow/pkg/session"
	"github.com/transflow/transflow/pkg/transcribe"
	"github.com/transflow/transflow/pkg/translate"
)

// client is one websocket connection and its session. It implements
// session.EventSink; every sink method only enqueues, the writer
// goroutine owns the connection.
type client struct {
	id     string
	conn   *websocket.Conn
	queue  *priority.PriorityQueue
	logger *slog.Logger

	t      *Transport
	sess   *session.Session
	ctx    context.Context
	cancel context.CancelFunc

	writeTimeout time.Duration
	closeOnce    sync.Once

	// registered tracks sources declared via audio_data payloads.
	// Only touched by the read loop.
	registered map[string]bool
}

func (c *client) TranscriptionEvent(_ string, frag transcribe.Fragment) {
	c.pushHigh("transcription", transcriptionPayload{
		Text:      frag.Text,
		Language:  frag.Language,
		Timestamp: ptsMillis(frag.StartPTS),
		Final:     frag.Final,
	})
	c.logger.Debug("transcription_sent",
		slog.String("text", redact.Snippet(frag.Text, 80)),
		slog.String("language", frag.Language))
}

func (c *client) TranslationEvent(item translate.Item) {
	p := translationPayload{
		SourceText:     item.SourceText,
		Translation:    item.Translation,
		SourceLanguage: item.SourceLang,
		TargetLanguage: item.TargetLang,
		Timestamp:      ptsMillis(item.PTS),
	}
	if item.Err != nil {
		p.Error = string(errorsx.Reason(item.Err))
	}
	c.pushHigh("translation", p)
}

func (c *client) RecordingStarted(string) {
	c.pushHigh("recording_started", recordingStatusPayload{Status: "recording"})
}

func (c *client) RecordingStopped(string) {
	c.pushHigh("recording_stopped", recordingStatusPayload{Status: "stopped"})
}

func (c *client) ErrorEvent(_ string, reason errorsx.ReasonCode, message string) {
	c.pushHigh("error", errorPayload{Message: message, Code: string(reason)})
}

func (c *client) AudioLevel(_, source string, level float64) {
	c.pushLow("audio_data", audioLevelPayload{
		Source:    source,
		Level:     level,
		Timestamp: nowMillis(),
	})
}

func (c *client) pushHigh(event string, payload any) {
	b, err := encodeEnvelope(event, payload)
	if err != nil {
		c.logger.Error("event_encode_failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
		return
	}
	if !c.queue.TryPushHigh(b) {
		c.logger.Warn("event_dropped_queue_full", slog.String("event", event))
	}
}

func (c *client) pushLow(event string, payload any) {
	b, err := encodeEnvelope(event, payload)
	if err != nil {
		return
	}
	if !c.queue.TryPushLow(b) {
		c.t.observer.RecordEvent(metrics.MetricsEvent{
			Name:  metrics.EventQueueDepth,
			Time:  time.Now(),
			Value: float64(c.queue.Stats().LowDrop),
			Tags:  map[string]string{"client_id": c.id},
		})
	}
}

func (c *client) writeLoop() {
	for {
		v, ok := c.queue.Pop()
		if !ok {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, v.([]byte)); err != nil {
			c.logger.Warn("transport_send_failed",
				slog.String("reason_code", string(errorsx.ReasonTransportSend)),
				slog.String("error", err.Error()))
			c.close()
			return
		}
	}
}

// readLoop parses inbound envelopes until the connection drops.
func (c *client) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.pushHigh("error", errorPayload{
				Message: "malformed envelope",
				Code:    string(errorsx.ReasonSessionProtocol),
			})
			continue
		}
		c.handle(env)
	}
}

func (c *client) handle(env Envelope) {
	switch env.Event {
	case "get_audio_sources":
		c.handleGetSources()
	case "start_recording":
		c.handleStart(env.Payload)
	case "stop_recording":
		if err := c.sess.StopRecording(); err != nil {
			c.sendError(err)
		}
	case "set_languages":
		c.handleSetLanguages(env.Payload)
	case "heartbeat":
		var req heartbeatRequest
		_ = json.Unmarshal(env.Payload, &req)
		c.sess.Heartbeat()
		now := nowMillis()
		resp := heartbeatResponsePayload{
			ClientTimestamp: req.Timestamp,
			ServerTimestamp: now,
		}
		if req.Timestamp > 0 {
			resp.LatencyMS = now - req.Timestamp
		}
		c.pushHigh("heartbeat_response", resp)
	case "ping":
		c.sess.Heartbeat()
		c.pushHigh("pong", nil)
	case "audio_data":
		c.handleAudioData(env.Payload)
	default:
		c.pushHigh("error", errorPayload{
			Message: "unknown event " + env.Event,
			Code:    string(errorsx.ReasonSessionProtocol),
		})
	}
}

func (c *client) handleGetSources() {
	inv, err := c.t.enumerator.ListSources(c.ctx)
	if err != nil {
		c.sendError(err)
		return
	}
	c.pushHigh("audio_sources", inv)
}

func (c *client) handleStart(raw json.RawMessage) {
	var req StartRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			c.pushHigh("error", errorPayload{
				Message: "malformed start_recording payload",
				Code:    string(errorsx.ReasonSessionProtocol),
			})
			return
		}
	}
	if req.SourceLanguage != "" || req.TargetLanguage != "" {
		if err := c.sess.SetLanguages(req.SourceLanguage, req.TargetLanguage); err != nil {
			c.sendError(err)
			return
		}
	}
	sources, err := c.t.sources(c.ctx, req)
	if err != nil {
		c.sendError(err)
		return
	}
	if err := c.sess.StartRecording(c.ctx, sources); err != nil {
		c.sendError(err)
	}
}

func (c *client) handleSetLanguages(raw json.RawMessage) {
	var req setLanguagesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.pushHigh("error", errorPayload{
			Message: "malformed set_languages payload",
			Code:    string(errorsx.ReasonSessionProtocol),
		})
		return
	}
	if err := c.sess.SetLanguages(req.SourceLanguage, req.TargetLanguage); err != nil {
		c.sendError(err)
		return
	}
	c.pushHigh("languages_updated", languagesUpdatedPayload{
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
	})
}

func (c *client) handleAudioData(raw json.RawMessage) {
	var req audioDataRequest
	if err := json.Unmarshal(raw, &req); err != nil || len(req.Data) == 0 {
		return
	}
	source := req.Source
	if source == "" {
		source = "microphone"
	}
	if req.SampleRate > 0 && !c.registered[source] {
		format := audio.Format{
			SampleRate:   req.SampleRate,
			Channels:     req.Channels,
			SampleFormat: audio.FormatS16LE,
		}
		if format.Channels <= 0 {
			format.Channels = 1
		}
		if err := c.sess.RegisterSource(source, format); err != nil {
			c.sendError(err)
			return
		}
		c.registered[source] = true
	}
	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}
	c.sess.PushAudio(source, req.Data, ts)
}

func (c *client) sendError(err error) {
	c.pushHigh("error", errorPayload{
		Message: err.Error(),
		Code:    string(errorsx.Reason(err)),
	})
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.queue.Close()
		_ = c.conn.Close()
	})
}
