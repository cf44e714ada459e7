package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/transflow/transflow/pkg/audio"
	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/logging"
	"github.com/transflow/transflow/pkg/segmenter"
	"github.com/transflow/transflow/pkg/transcribe"
)

type Config struct {
	APIKey             string
	Model              string
	Language           string
	MaxSegmentDuration time.Duration
	ResultTimeout      time.Duration
}

// Engine streams one segment per websocket connection and resolves the
// submission once the server has flushed its final transcript.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.MaxSegmentDuration <= 0 {
		cfg.MaxSegmentDuration = transcribe.DefaultMaxSegmentDuration
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}, nil
}

func (e *Engine) Name() string { return "deepgram" }

func (e *Engine) Submit(ctx context.Context, seg *segmenter.Segment) (<-chan transcribe.Result, error) {
	if err := transcribe.ValidateSegment(seg, e.cfg.MaxSegmentDuration); err != nil {
		return nil, err
	}
	out := make(chan transcribe.Result, 1)
	go func() {
		defer close(out)
		frag, err := e.run(ctx, seg)
		if err != nil {
			out <- transcribe.Result{Err: err}
			return
		}
		out <- transcribe.Result{Fragment: frag}
	}()
	return out, nil
}

func (e *Engine) Close() error { return nil }

func (e *Engine) run(ctx context.Context, seg *segmenter.Segment) (transcribe.Fragment, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ResultTimeout)
	defer cancel()

	col := newCollector(e.logger, seg.SessionID)

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          e.cfg.Model,
		Language:       e.cfg.Language,
		Encoding:       "linear16",
		SampleRate:     audio.CanonicalRate,
		InterimResults: false,
		SmartFormat:    true,
	}

	dg, err := client.NewWSUsingCallback(cctx, e.cfg.APIKey, clientOptions, transcriptOptions, col)
	if err != nil {
		return transcribe.Fragment{}, errorsx.Wrap(err, errorsx.ReasonTranscribeSubmit)
	}
	if connected := dg.Connect(); !connected {
		return transcribe.Fragment{}, errorsx.Wrap(
			fmt.Errorf("deepgram connection failed"), errorsx.ReasonTranscribeSubmit)
	}

	streamErr := dg.Stream(bytes.NewReader(seg.PCM))
	dg.Stop()
	if streamErr != nil && cctx.Err() == nil {
		e.logger.Warn("deepgram_stream_error",
			slog.String("session_id", seg.SessionID),
			slog.String("error", streamErr.Error()))
	}

	select {
	case <-col.done:
	case <-cctx.Done():
		if ctx.Err() != nil {
			return transcribe.Fragment{}, ctx.Err()
		}
		return transcribe.Fragment{}, errorsx.Wrap(
			fmt.Errorf("no final transcript within %v", e.cfg.ResultTimeout),
			errorsx.ReasonTranscribeTimeout,
		)
	}

	text, remoteErr := col.result()
	if remoteErr != nil {
		return transcribe.Fragment{}, remoteErr
	}
	return transcribe.Fragment{
		Text:     text,
		Language: e.cfg.Language,
		StartPTS: seg.StartPTS,
		EndPTS:   seg.EndPTS,
		Final:    true,
	}, nil
}

// collector gathers final transcripts for one submission.
type collector struct {
	logger    *slog.Logger
	sessionID string

	mu     sync.Mutex
	finals []string
	err    error

	done     chan struct{}
	doneOnce sync.Once
}

func newCollector(logger *slog.Logger, sessionID string) *collector {
	return &collector{logger: logger, sessionID: sessionID, done: make(chan struct{})}
}

func (c *collector) result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.finals, " "), c.err
}

func (c *collector) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *collector) Open(*msginterfaces.OpenResponse) error {
	c.logger.Debug("deepgram_connection_opened", slog.String("session_id", c.sessionID))
	return nil
}

func (c *collector) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if mr.IsFinal || mr.SpeechFinal {
		c.mu.Lock()
		c.finals = append(c.finals, transcript)
		c.mu.Unlock()
	}
	return nil
}

func (c *collector) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram_metadata_received",
		slog.String("session_id", c.sessionID),
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *collector) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }

func (c *collector) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error { return nil }

func (c *collector) Close(*msginterfaces.CloseResponse) error {
	c.finish()
	return nil
}

func (c *collector) Error(er *msginterfaces.ErrorResponse) error {
	c.mu.Lock()
	c.err = errorsx.Wrap(
		fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.ErrMsg),
		errorsx.ReasonTranscribeSubmit,
	)
	c.mu.Unlock()
	c.finish()
	return nil
}

func (c *collector) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.sessionID),
		slog.String("data", string(byData)))
	return nil
}
