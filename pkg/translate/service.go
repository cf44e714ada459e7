package translate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/logging"
	"github.com/transflow/transflow/pkg/resilience"
)

type ServiceConfig struct {
	ContextWindow    int
	RequestTimeout   time.Duration
	RetryBackoff     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.ContextWindow <= 0 {
		c.ContextWindow = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Service translates flushed sentences through a Translator, fronted
// by the shared cache. A failed call gets exactly one retry when the
// error is transient; after that the error is attached to the item.
type Service struct {
	cfg        ServiceConfig
	translator Translator
	cache      *Cache
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger

	mu      sync.Mutex
	history map[string][]string
}

func NewService(translator Translator, cache *Cache, cfg ServiceConfig) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:        cfg,
		translator: translator,
		cache:      cache,
		breaker:    resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:     logging.NewComponentLogger(slog.Default(), "translate_service"),
		history:    make(map[string][]string),
	}
}

// Translate resolves one sentence into an Item. Safe for concurrent
// use across sessions.
func (s *Service) Translate(ctx context.Context, sent Sentence, sourceLang, targetLang string) Item {
	item := Item{
		SessionID:  sent.SessionID,
		Source:     sent.Source,
		SourceText: sent.Text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		PTS:        sent.PTS,
	}
	if sourceLang == LanguageAuto && sent.Language != "" {
		item.SourceLang = sent.Language
	}
	if item.SourceLang == targetLang {
		item.Translation = sent.Text
		return item
	}

	if s.cache != nil {
		if hit, ok := s.cache.Get(sent.Text, item.SourceLang, targetLang); ok {
			item.Translation = hit
			item.Cached = true
			return item
		}
	}

	req := Request{
		Text:       sent.Text,
		SourceLang: item.SourceLang,
		TargetLang: targetLang,
		Context:    s.contextWindow(sent.SessionID),
	}

	translation, err := s.call(ctx, req)
	if err != nil && errorsx.Transient(err) {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(s.cfg.RetryBackoff):
			translation, err = s.call(ctx, req)
		}
	}
	if err != nil {
		s.logger.Warn("translation_failed",
			slog.String("session_id", sent.SessionID),
			slog.String("source_lang", item.SourceLang),
			slog.String("target_lang", targetLang),
			slog.String("error", err.Error()))
		item.Err = errorsx.Wrap(err, errorsx.ReasonTranslateRequest)
		return item
	}

	item.Translation = translation
	if s.cache != nil {
		s.cache.Put(sent.Text, item.SourceLang, targetLang, translation)
	}
	s.appendHistory(sent.SessionID, translation)
	return item
}

// ReleaseSession drops the per-session context window.
func (s *Service) ReleaseSession(sessionID string) {
	s.mu.Lock()
	delete(s.history, sessionID)
	s.mu.Unlock()
}

func (s *Service) call(ctx context.Context, req Request) (string, error) {
	if !s.breaker.Allow() {
		return "", errorsx.Wrap(errors.New("translator cooling down after rate limits"), errorsx.ReasonTranslateRateLimit)
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	out, err := s.translator.Translate(cctx, req)
	if err != nil {
		s.breaker.OnError(err)
		return "", err
	}
	s.breaker.OnSuccess()
	return out, nil
}

func (s *Service) contextWindow(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[sessionID]
	out := make([]string, len(h))
	copy(out, h)
	return out
}

func (s *Service) appendHistory(sessionID, translation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[sessionID], translation)
	if len(h) > s.cfg.ContextWindow {
		h = h[len(h)-s.cfg.ContextWindow:]
	}
	s.history[sessionID] = h
}
