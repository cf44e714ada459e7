package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/transflow/transflow/pkg/audio"
	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/logging"
	"github.com/transflow/transflow/pkg/resilience"
	"github.com/transflow/transflow/pkg/segmenter"
	"github.com/transflow/transflow/pkg/transcribe"
)

type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	Language           string
	RequestTimeout     time.Duration
	MaxSegmentDuration time.Duration
}

// Engine submits WAV-encoded segments to an OpenAI-compatible
// transcription endpoint over multipart HTTP.
type Engine struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("whisper: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxSegmentDuration <= 0 {
		cfg.MaxSegmentDuration = transcribe.DefaultMaxSegmentDuration
	}
	return &Engine{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logging.NewComponentLogger(slog.Default(), "whisper_stt"),
	}, nil
}

func (e *Engine) Name() string { return "whisper" }

func (e *Engine) Submit(ctx context.Context, seg *segmenter.Segment) (<-chan transcribe.Result, error) {
	if err := transcribe.ValidateSegment(seg, e.cfg.MaxSegmentDuration); err != nil {
		return nil, err
	}
	out := make(chan transcribe.Result, 1)
	go func() {
		defer close(out)
		frag, err := e.transcribe(ctx, seg)
		if err != nil {
			out <- transcribe.Result{Err: err}
			return
		}
		out <- transcribe.Result{Fragment: frag}
	}()
	return out, nil
}

func (e *Engine) Close() error {
	e.http.CloseIdleConnections()
	return nil
}

type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (e *Engine) transcribe(ctx context.Context, seg *segmenter.Segment) (transcribe.Fragment, error) {
	started := time.Now()

	body := new(bytes.Buffer)
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", "segment.wav")
	if err != nil {
		return transcribe.Fragment{}, err
	}
	if _, err := part.Write(audio.EncodeWAV(seg.PCM)); err != nil {
		return transcribe.Fragment{}, err
	}
	_ = form.WriteField("model", e.cfg.Model)
	_ = form.WriteField("response_format", "verbose_json")
	if e.cfg.Language != "" && e.cfg.Language != "auto" {
		_ = form.WriteField("language", e.cfg.Language)
	}
	if err := form.Close(); err != nil {
		return transcribe.Fragment{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return transcribe.Fragment{}, err
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return transcribe.Fragment{}, ctx.Err()
		}
		return transcribe.Fragment{}, errorsx.Wrap(err, errorsx.ReasonTranscribeSubmit)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcribe.Fragment{}, e.statusError(resp)
	}

	var parsed verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return transcribe.Fragment{}, errorsx.Wrap(err, errorsx.ReasonTranscribeSubmit)
	}

	e.logger.Debug("segment_transcribed",
		slog.String("session_id", seg.SessionID),
		slog.String("source", seg.Source),
		slog.String("language", parsed.Language),
		slog.Duration("elapsed", time.Since(started)))

	lang := parsed.Language
	if lang == "" {
		lang = e.cfg.Language
	}
	return transcribe.Fragment{
		Text:     parsed.Text,
		Language: lang,
		StartPTS: seg.StartPTS,
		EndPTS:   seg.EndPTS,
		Final:    true,
	}, nil
}

func (e *Engine) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errorsx.Wrap(
			resilience.RateLimitError{Provider: "whisper", Message: string(detail)},
			errorsx.ReasonTranscribeRateLimit,
		)
	case resp.StatusCode >= 500:
		return errorsx.Wrap(err, errorsx.ReasonTranscribeSubmit)
	case resp.StatusCode == http.StatusBadRequest:
		return errorsx.Wrap(err, errorsx.ReasonMalformedAudio)
	default:
		return err
	}
}
