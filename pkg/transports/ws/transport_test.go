package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/transflow/transflow/pkg/capture"
	"github.com/transflow/transflow/pkg/session"
	"github.com/transflow/transflow/pkg/transcribe"
	tmock "github.com/transflow/transflow/pkg/transcribe/mock"
	"github.com/transflow/transflow/pkg/translate"
	trmock "github.com/transflow/transflow/pkg/translate/mock"
)

func newTestTransport(t *testing.T) (*Transport, *websocket.Conn) {
	t.Helper()
	deps := session.Deps{
		Engines:    func(string) (transcribe.Engine, error) { return tmock.New(), nil },
		Translator: translate.NewService(trmock.New(), nil, translate.ServiceConfig{}),
		Assembler:  translate.NewAssembler(translate.AssemblerConfig{}),
	}
	manager := session.NewManager(session.Config{}, deps)
	enum := capture.StaticEnumerator{
		Devices: []capture.DeviceInfo{{ID: "mic-0", Name: "Built-in Microphone"}},
	}
	tr := New(Config{}, manager, enum, nil, nil, nil)

	srv := httptest.NewServer(tr)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return tr, conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	b, err := encodeEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readEvent skips unrelated events (level data and the like) until the
// wanted one arrives.
func readEvent(t *testing.T, conn *websocket.Conn, want string) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("malformed envelope: %v", err)
		}
		if env.Event == want {
			return env
		}
	}
}

func TestConnectionStatusSentOnConnect(t *testing.T) {
	_, conn := newTestTransport(t)
	env := readEvent(t, conn, "connection_status")
	var p connectionStatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ClientID == "" {
		t.Fatalf("empty client id")
	}
}

func TestGetAudioSources(t *testing.T) {
	_, conn := newTestTransport(t)
	readEvent(t, conn, "connection_status")

	send(t, conn, "get_audio_sources", nil)
	env := readEvent(t, conn, "audio_sources")
	var inv capture.Inventory
	if err := json.Unmarshal(env.Payload, &inv); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(inv.Devices) != 1 || inv.Devices[0].ID != "mic-0" {
		t.Fatalf("unexpected inventory %+v", inv)
	}
}

func TestSetLanguages(t *testing.T) {
	_, conn := newTestTransport(t)
	readEvent(t, conn, "connection_status")

	send(t, conn, "set_languages", setLanguagesRequest{SourceLanguage: "zh", TargetLanguage: "en"})
	env := readEvent(t, conn, "languages_updated")
	var p languagesUpdatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.SourceLanguage != "zh" || p.TargetLanguage != "en" {
		t.Fatalf("unexpected payload %+v", p)
	}

	send(t, conn, "set_languages", setLanguagesRequest{SourceLanguage: "xx", TargetLanguage: "en"})
	errEnv := readEvent(t, conn, "error")
	var ep errorPayload
	if err := json.Unmarshal(errEnv.Payload, &ep); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ep.Code != "unsupported_language" {
		t.Fatalf("error code %q", ep.Code)
	}
}

func TestHeartbeatResponse(t *testing.T) {
	_, conn := newTestTransport(t)
	readEvent(t, conn, "connection_status")

	sent := time.Now().UnixMilli()
	send(t, conn, "heartbeat", heartbeatRequest{Timestamp: sent})
	env := readEvent(t, conn, "heartbeat_response")
	var p heartbeatResponsePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ClientTimestamp != sent {
		t.Fatalf("client timestamp %d, want %d", p.ClientTimestamp, sent)
	}
	if p.ServerTimestamp < sent {
		t.Fatalf("server timestamp went backwards")
	}

	send(t, conn, "ping", nil)
	readEvent(t, conn, "pong")
}

func TestStartStopRecordingLifecycle(t *testing.T) {
	_, conn := newTestTransport(t)
	readEvent(t, conn, "connection_status")

	send(t, conn, "start_recording", StartRequest{
		SourceLanguage: "zh",
		TargetLanguage: "en",
	})
	readEvent(t, conn, "recording_started")

	send(t, conn, "stop_recording", nil)
	readEvent(t, conn, "recording_stopped")
}

func TestStopWithoutStartRaisesProtocolError(t *testing.T) {
	_, conn := newTestTransport(t)
	readEvent(t, conn, "connection_status")

	send(t, conn, "stop_recording", nil)
	env := readEvent(t, conn, "error")
	var p errorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Code != "session_protocol" {
		t.Fatalf("error code %q", p.Code)
	}
}

func TestDisconnectReleasesSession(t *testing.T) {
	tr, conn := newTestTransport(t)
	readEvent(t, conn, "connection_status")
	if tr.sessions.Count() != 1 {
		t.Fatalf("session not registered")
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.sessions.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session survived disconnect")
}

func TestCheckOriginAllowsConfiguredList(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"app.example.com"}}, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	if !tr.checkOrigin(req) {
		t.Fatalf("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if tr.checkOrigin(req) {
		t.Fatalf("unknown origin accepted")
	}
}
