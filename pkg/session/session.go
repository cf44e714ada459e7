package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transflow/transflow/pkg/audio"
	"github.com/transflow/transflow/pkg/capture"
	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/frames"
	"github.com/transflow/transflow/pkg/metrics"
	"github.com/transflow/transflow/pkg/resilience"
	"github.com/transflow/transflow/pkg/segmenter"
	"github.com/transflow/transflow/pkg/transcribe"
	"github.com/transflow/transflow/pkg/translate"
	"github.com/transflow/transflow/pkg/vad"
)

// EventSink receives everything a session emits. Implementations must
// not block; the websocket transport queues internally.
type EventSink interface {
	TranscriptionEvent(sessionID string, frag transcribe.Fragment)
	TranslationEvent(item translate.Item)
	RecordingStarted(sessionID string)
	RecordingStopped(sessionID string)
	ErrorEvent(sessionID string, reason errorsx.ReasonCode, message string)
	AudioLevel(sessionID, source string, level float64)
}

// EngineFactory resolves a transcription engine for a configured
// source language.
type EngineFactory func(language string) (transcribe.Engine, error)

type Config struct {
	VAD       vad.Config
	Segmenter segmenter.Config

	FrameDuration      time.Duration
	MaxInFlight        int
	TranscribeRetries  int
	RetryBackoff       time.Duration
	MaxSegmentDuration time.Duration
	TickInterval       time.Duration
	DrainTimeout       time.Duration
	HeartbeatTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 2
	}
	if c.TranscribeRetries <= 0 {
		c.TranscribeRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxSegmentDuration <= 0 {
		c.MaxSegmentDuration = transcribe.DefaultMaxSegmentDuration
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	return c
}

// Deps are the shared collaborators a session is wired with. The
// translation service, cache and assembler are shared across sessions;
// everything audio-side is per session.
type Deps struct {
	Engines    EngineFactory
	Translator *translate.Service
	Assembler  *translate.Assembler
	Observer   metrics.Observer
	Logger     *slog.Logger
}

// stream is the per-source hot path state. Exclusively owned by its
// session; never shared.
type stream struct {
	format    audio.Format
	resampler *audio.Resampler
	detector  *vad.Detector
	buffer    *segmenter.Buffer
	meter     *audio.LevelMeter
	pending   []byte
	samples   uint64
	basePTS   int64
}

// Session owns one end-to-end pipeline instance for a connected
// client.
type Session struct {
	id   string
	cfg  Config
	deps Deps
	sink EventSink
	fsm  *stateMachine

	mu         sync.Mutex
	srcLang    string
	dstLang    string
	streams    map[string]*stream
	seq        *frames.SeqGen
	recCtx     context.Context
	recCancel  context.CancelFunc
	tickCancel context.CancelFunc

	sem    chan struct{}
	sReseq *resequencer
	tReseq *resequencer
	wg     sync.WaitGroup

	lastBeat atomic.Int64
	logger   *slog.Logger
}

func newSession(id string, cfg Config, deps Deps, sink EventSink) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		sink:    sink,
		fsm:     newStateMachine(),
		streams: make(map[string]*stream),
		seq:     frames.NewSeqGen(),
		sem:     make(chan struct{}, cfg.MaxInFlight),
		sReseq:  newResequencer(),
		tReseq:  newResequencer(),
		logger:  deps.Logger.With(slog.String("session_id", id)),
	}
	s.lastBeat.Store(time.Now().UnixNano())
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) State() State { return s.fsm.State() }
func (s *Session) Languages() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srcLang, s.dstLang
}

// Heartbeat refreshes the liveness timestamp.
func (s *Session) Heartbeat() {
	s.lastBeat.Store(time.Now().UnixNano())
}

func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastBeat.Load())
}

// SetLanguages updates the language configuration. Valid in every
// live state; during recording it takes effect for subsequent
// segments.
func (s *Session) SetLanguages(source, target string) error {
	if s.fsm.State() == StateDestroyed {
		return errorsx.Wrap(&InvalidTransitionError{From: StateDestroyed, To: StateConfigured},
			errorsx.ReasonSessionProtocol)
	}
	if err := translate.ValidateLanguagePair(source, target); err != nil {
		return err
	}
	s.mu.Lock()
	s.srcLang = source
	s.dstLang = target
	s.mu.Unlock()

	if s.fsm.State() == StateCreated {
		if err := s.fsm.Transition(StateConfigured, "languages set"); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonSessionProtocol)
		}
	}
	s.logger.Info("languages_updated",
		slog.String("source_lang", source),
		slog.String("target_lang", target))
	return nil
}

// StartRecording transitions to Recording and begins consuming the
// given capture sources. Additional audio may also arrive through
// PushAudio.
func (s *Session) StartRecording(ctx context.Context, sources []capture.Source) error {
	if err := s.fsm.Transition(StateRecording, "start_recording"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionProtocol)
	}

	s.mu.Lock()
	srcLang := s.srcLang
	// Fail fast when no engine backs the configured language; segments
	// resolve their own engine later so set_languages can retarget a
	// live recording.
	if _, err := s.deps.Engines(srcLang); err != nil {
		s.mu.Unlock()
		_ = s.fsm.Transition(StateStopped, "engine unavailable")
		return err
	}
	s.recCtx, s.recCancel = context.WithCancel(ctx)
	recCtx := s.recCtx
	s.sReseq.Reset()
	s.tReseq.Reset()
	s.mu.Unlock()

	for _, src := range sources {
		if err := s.RegisterSource(src.Name(), src.Format()); err != nil {
			return err
		}
		go func(src capture.Source) {
			name := src.Name()
			if err := src.Start(recCtx, func(chunk []byte, ts time.Time) {
				s.PushAudio(name, chunk, ts)
			}); err != nil && recCtx.Err() == nil {
				s.logger.Warn("capture_source_failed",
					slog.String("source", name),
					slog.String("error", err.Error()))
				s.sink.ErrorEvent(s.id, errorsx.ReasonCaptureStall, err.Error())
			}
		}(src)
	}

	tickCtx, tickCancel := context.WithCancel(recCtx)
	s.mu.Lock()
	s.tickCancel = tickCancel
	s.mu.Unlock()
	go s.tickLoop(tickCtx)

	s.logger.Info("recording_started", slog.String("source_lang", srcLang))
	s.sink.RecordingStarted(s.id)
	return nil
}

// RegisterSource prepares the per-source hot path state. Registering
// the same name again replaces the stream.
func (s *Session) RegisterSource(name string, format audio.Format) error {
	rs, err := audio.NewResampler(format)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.streams[name] = &stream{
		format:    format,
		resampler: rs,
		detector:  vad.NewDetector(s.cfg.VAD, nil),
		buffer:    segmenter.NewBuffer(s.id, name, s.cfg.Segmenter),
		meter:     audio.NewLevelMeter(0),
	}
	s.mu.Unlock()
	return nil
}

// PushAudio feeds one raw chunk from a capture source. Never blocks on
// the network; transcription is dispatched to independent tasks.
func (s *Session) PushAudio(source string, chunk []byte, ts time.Time) {
	if s.fsm.State() != StateRecording {
		return
	}
	s.mu.Lock()
	st := s.streams[source]
	if st == nil {
		s.mu.Unlock()
		if err := s.RegisterSource(source, audio.CanonicalFormat()); err != nil {
			s.sink.ErrorEvent(s.id, errorsx.ReasonMalformedAudio, err.Error())
			return
		}
		s.mu.Lock()
		st = s.streams[source]
	}

	pcm, err := st.resampler.Process(chunk)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("audio_decode_failed",
			slog.String("source", source),
			slog.String("error", err.Error()))
		s.sink.ErrorEvent(s.id, errorsx.Reason(err), "audio payload rejected")
		return
	}
	if len(pcm) == 0 {
		s.mu.Unlock()
		return
	}

	if st.basePTS == 0 {
		st.basePTS = ts.UnixNano()
	}
	level := st.meter.Push(pcm)
	st.pending = append(st.pending, pcm...)

	frameBytes := int(s.cfg.FrameDuration.Seconds()*audio.CanonicalRate) * 2
	var segs []*segmenter.Segment
	for len(st.pending) >= frameBytes {
		raw := st.pending[:frameBytes]
		pts := st.basePTS + int64(st.samples)*int64(time.Second)/audio.CanonicalRate
		st.samples += uint64(frameBytes / 2)
		f := frames.NewAudioFrame(s.id, s.seq.Next(source), pts, raw,
			audio.CanonicalRate, audio.CanonicalChannels,
			map[string]string{frames.MetaSource: source})
		dec := st.detector.Classify(raw)
		if seg := st.buffer.Push(f, dec); seg != nil {
			segs = append(segs, seg)
		}
		st.pending = st.pending[frameBytes:]
	}
	s.mu.Unlock()

	s.sink.AudioLevel(s.id, source, level)
	s.deps.Observer.RecordEvent(metrics.LevelEvent(s.id, source, level))
	for _, seg := range segs {
		s.dispatchSegment(seg)
	}
}

// StopRecording transitions to Stopped, flushes open buffers and
// drains in-flight work best-effort before cancelling it.
func (s *Session) StopRecording() error {
	if err := s.fsm.Transition(StateStopped, "stop_recording"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionProtocol)
	}

	s.mu.Lock()
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	var segs []*segmenter.Segment
	for _, st := range s.streams {
		if seg := st.buffer.Flush(); seg != nil {
			segs = append(segs, seg)
		}
	}
	recCancel := s.recCancel
	s.mu.Unlock()

	for _, seg := range segs {
		s.dispatchSegment(seg)
	}
	for _, sent := range s.deps.Assembler.FlushSession(s.id) {
		s.dispatchSentence(sent)
	}

	go func() {
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.DrainTimeout):
			s.logger.Warn("drain_timeout")
		}
		if recCancel != nil {
			recCancel()
		}
	}()

	s.logger.Info("recording_stopped")
	s.sink.RecordingStopped(s.id)
	return nil
}

// Destroy tears the session down. In-flight results arriving after
// this point are discarded. Idempotent.
func (s *Session) Destroy() {
	if s.fsm.State() == StateDestroyed {
		return
	}
	if s.fsm.State() == StateRecording {
		_ = s.StopRecording()
	}
	_ = s.fsm.Transition(StateDestroyed, "destroy")

	s.mu.Lock()
	if s.recCancel != nil {
		s.recCancel()
		s.recCancel = nil
	}
	s.streams = make(map[string]*stream)
	s.mu.Unlock()

	s.deps.Assembler.FlushSession(s.id)
	s.deps.Translator.ReleaseSession(s.id)
	s.logger.Info("session_destroyed")
}

func (s *Session) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			var segs []*segmenter.Segment
			for _, st := range s.streams {
				if seg := st.buffer.Tick(now); seg != nil {
					segs = append(segs, seg)
				}
			}
			s.mu.Unlock()
			for _, seg := range segs {
				s.logger.Warn("capture_stall_flush", slog.String("source", seg.Source))
				s.dispatchSegment(seg)
			}
			for _, sent := range s.deps.Assembler.Tick(s.id, now) {
				s.dispatchSentence(sent)
			}
		}
	}
}

func (s *Session) dispatchSegment(seg *segmenter.Segment) {
	s.deps.Observer.RecordEvent(metrics.StageEvent(metrics.EventSegmentClosed, s.id, seg.Source, seg.Duration()))
	if !seg.IsSpeech {
		return
	}
	s.mu.Lock()
	ctx := s.recCtx
	srcLang := s.srcLang
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	// Resolved per segment so a language change mid-recording applies
	// to the segments that follow it.
	engine, err := s.deps.Engines(srcLang)
	if err != nil {
		s.logger.Error("engine_unavailable",
			slog.String("language", srcLang),
			slog.String("error", err.Error()))
		s.sink.ErrorEvent(s.id, errorsx.ReasonTranscribeSubmit, "no engine for configured language")
		return
	}

	slot := s.sReseq.Register()
	s.wg.Add(1)
	go s.transcribeSegment(ctx, engine, seg, slot)
}

func (s *Session) transcribeSegment(ctx context.Context, engine transcribe.Engine, seg *segmenter.Segment, slot uint64) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.emitFragments(s.sReseq.Abandon(slot))
		return
	}

	started := time.Now()
	policy := resilience.RetryPolicy{MaxRetries: s.cfg.TranscribeRetries, Backoff: s.cfg.RetryBackoff, Multiplier: 2}
	var frag transcribe.Fragment
	err := policy.DoFiltered(ctx, func(ctx context.Context) error {
		ch, err := engine.Submit(ctx, seg)
		if err != nil {
			return err
		}
		res, ok := <-ch
		if !ok {
			return errorsx.Wrap(context.Canceled, errorsx.ReasonTranscribeSubmit)
		}
		if res.Err != nil {
			return res.Err
		}
		frag = res.Fragment
		return nil
	}, errorsx.Transient)

	if ctx.Err() != nil {
		// Session stopped while we were in flight; discard.
		s.emitFragments(s.sReseq.Abandon(slot))
		return
	}
	if err != nil {
		s.logger.Error("segment_transcription_failed",
			slog.String("source", seg.Source),
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		s.sink.ErrorEvent(s.id, errorsx.Reason(err), "segment dropped after retries")
		s.emitFragments(s.sReseq.Abandon(slot))
		return
	}

	s.deps.Observer.RecordEvent(metrics.StageEvent(metrics.EventTranscribeDone, s.id, seg.Source, time.Since(started)))
	frag.StartPTS = seg.StartPTS
	frag.EndPTS = seg.EndPTS
	s.emitFragments(s.sReseq.Complete(slot, fragEnvelope{frag: frag, source: seg.Source}))
}

type fragEnvelope struct {
	frag   transcribe.Fragment
	source string
}

// emitFragments releases re-sequenced fragments downstream, in
// segment start-time order.
func (s *Session) emitFragments(ready []any) {
	for _, v := range ready {
		env := v.(fragEnvelope)
		if s.fsm.State() == StateDestroyed {
			return
		}
		s.sink.TranscriptionEvent(s.id, env.frag)
		for _, sent := range s.deps.Assembler.Feed(s.id, env.source, env.frag) {
			s.dispatchSentence(sent)
		}
	}
}

func (s *Session) dispatchSentence(sent translate.Sentence) {
	s.mu.Lock()
	ctx := s.recCtx
	srcLang, dstLang := s.srcLang, s.dstLang
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	slot := s.tReseq.Register()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		started := time.Now()
		item := s.deps.Translator.Translate(ctx, sent, srcLang, dstLang)
		if ctx.Err() != nil {
			s.emitItems(s.tReseq.Abandon(slot))
			return
		}
		if item.Cached {
			s.deps.Observer.RecordEvent(metrics.StageEvent(metrics.EventTranslateCache, s.id, sent.Source, time.Since(started)))
		} else {
			s.deps.Observer.RecordEvent(metrics.StageEvent(metrics.EventTranslateDone, s.id, sent.Source, time.Since(started)))
		}
		s.emitItems(s.tReseq.Complete(slot, item))
	}()
}

func (s *Session) emitItems(ready []any) {
	for _, v := range ready {
		if s.fsm.State() == StateDestroyed {
			return
		}
		s.sink.TranslationEvent(v.(translate.Item))
	}
}
