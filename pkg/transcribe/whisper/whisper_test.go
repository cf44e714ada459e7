package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/resilience"
	"github.com/transflow/transflow/pkg/segmenter"
)

func testSegment() *segmenter.Segment {
	return &segmenter.Segment{
		SessionID: "sess-1",
		Source:    "system",
		StartPTS:  100,
		EndPTS:    200,
		PCM:       make([]byte, 16000), // 500ms
	}
}

func newTestEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, srv
}

func TestSubmitDeliversFragment(t *testing.T) {
	e, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model field %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file field: %v", err)
		}
		w.Write([]byte(`{"text":"你好世界。","language":"zh"}`))
	})

	ch, err := e.Submit(context.Background(), testSegment())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := <-ch
	if res.Err != nil {
		t.Fatalf("result error: %v", res.Err)
	}
	if res.Fragment.Text != "你好世界。" || res.Fragment.Language != "zh" {
		t.Fatalf("unexpected fragment: %+v", res.Fragment)
	}
	if res.Fragment.StartPTS != 100 || res.Fragment.EndPTS != 200 {
		t.Fatalf("fragment should carry the segment time range: %+v", res.Fragment)
	}
	if !res.Fragment.Final {
		t.Fatalf("batch transcription results are final")
	}
}

func TestSubmitMapsRateLimitToTransient(t *testing.T) {
	e, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	ch, err := e.Submit(context.Background(), testSegment())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := <-ch
	if res.Err == nil {
		t.Fatalf("expected error result")
	}
	if errorsx.Reason(res.Err) != errorsx.ReasonTranscribeRateLimit {
		t.Fatalf("got reason %q", errorsx.Reason(res.Err))
	}
	if !errorsx.Transient(res.Err) {
		t.Fatalf("rate limit must be transient")
	}
	if !resilience.IsRateLimit(res.Err) {
		t.Fatalf("rate limit error type lost in wrapping")
	}
}

func TestSubmitMapsBadRequestToPermanent(t *testing.T) {
	e, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported audio", http.StatusBadRequest)
	})
	ch, err := e.Submit(context.Background(), testSegment())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := <-ch
	if errorsx.Transient(res.Err) {
		t.Fatalf("bad request must be permanent, got %v", res.Err)
	}
	if errorsx.Reason(res.Err) != errorsx.ReasonMalformedAudio {
		t.Fatalf("got reason %q", errorsx.Reason(res.Err))
	}
}

func TestSubmitRejectsEmptySegmentSynchronously(t *testing.T) {
	e, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request should reach the server")
	})
	if _, err := e.Submit(context.Background(), &segmenter.Segment{}); err == nil {
		t.Fatalf("expected synchronous rejection")
	}
}
