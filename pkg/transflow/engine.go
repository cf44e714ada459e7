package transflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/transflow/transflow/pkg/capture"
	"github.com/transflow/transflow/pkg/configutil"
	"github.com/transflow/transflow/pkg/logging"
	"github.com/transflow/transflow/pkg/metrics"
	"github.com/transflow/transflow/pkg/observers"
	"github.com/transflow/transflow/pkg/redact"
	"github.com/transflow/transflow/pkg/runner"
	"github.com/transflow/transflow/pkg/session"
	"github.com/transflow/transflow/pkg/transcribe"
	"github.com/transflow/transflow/pkg/translate"
	"github.com/transflow/transflow/pkg/transports"
	"github.com/transflow/transflow/pkg/transports/ws"
)

// Engine assembles the full pipeline: providers, session manager,
// websocket transport and lifecycle runner.
type Engine struct {
	cfg       Config
	sessions  *session.Manager
	transport transports.Transport
	providers *ProviderRegistry
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	metricsF  *os.File
	cache     *translate.Cache

	mu      sync.Mutex
	engines map[string]transcribe.Engine

	ctx    context.Context
	cancel context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry

	// Enumerator answers get_audio_sources; Sources resolves the
	// capture sources a start_recording request names. Both optional.
	Enumerator capture.Enumerator
	Sources    ws.SourceFactory

	// Transport overrides the websocket transport built from config,
	// for tests and embedding.
	Transport transports.Transport
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("transflow_init",
		"environment", cfg.Environment,
		"transcribe_provider", cfg.Vendors.Transcribe.Provider,
		"translate_provider", cfg.Vendors.Translate.Provider)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultRegistry()
	}

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(slog.Default()),
		observers.NewLoggerObserver(slog.Default()),
	}
	var metricsF *os.File
	if path := strings.TrimSpace(cfg.Observability.MetricsPath); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		metricsF = f
		obsList = append(obsList, metrics.NewJSONLObserver(f))
	}
	var obs metrics.Observer = observers.NewMultiObserver(obsList...)
	if cfg.Observability.SampleRate > 0 && cfg.Observability.SampleRate < 1 {
		obs = metrics.NewSamplingObserver(obs, cfg.Observability.SampleRate)
	}
	asyncObs := metrics.NewAsyncObserver(obs, 2048)

	translator, err := providers.BuildTranslator(cfg.Vendors.Translate)
	if err != nil {
		asyncObs.Close()
		return nil, err
	}
	cache := translate.NewCache(cfg.Pipeline.CacheCapacity, millis(cfg.Pipeline.CacheTTLMS))
	service := translate.NewService(translator, cache, translate.ServiceConfig{
		ContextWindow:    cfg.Pipeline.ContextWindow,
		RetryBackoff:     millis(cfg.Pipeline.RetryBackoffMS),
		BreakerThreshold: cfg.Pipeline.BreakerThreshold,
		BreakerCooldown:  millis(cfg.Pipeline.BreakerCooldownMS),
	})

	e := &Engine{
		cfg:       cfg,
		providers: providers,
		asyncObs:  asyncObs,
		metricsF:  metricsF,
		cache:     cache,
		engines:   make(map[string]transcribe.Engine),
	}

	deps := session.Deps{
		Engines:    e.engineForLanguage,
		Translator: service,
		Assembler:  translate.NewAssembler(cfg.AssemblerConfig()),
		Observer:   asyncObs,
		Logger:     slog.Default(),
	}
	e.sessions = session.NewManager(cfg.SessionConfig(), deps)

	transport := opts.Transport
	if transport == nil {
		var wsCfg ws.Config
		if err := configutil.DecodeSettings(cfg.Transport, &wsCfg); err != nil {
			asyncObs.Close()
			return nil, fmt.Errorf("transport settings: %w", err)
		}
		transport = ws.New(wsCfg, e.sessions, opts.Enumerator, opts.Sources, asyncObs,
			logging.NewComponentLogger(slog.Default(), "transport"))
	}
	e.transport = transport

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "TransFlow Engine Ready"}
			if rr, ok := transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			e.closeEngines()
			asyncObs.Close()
			if metricsF != nil {
				_ = metricsF.Close()
			}
			slog.Info("shutdown",
				"goroutines", runtime.NumGoroutine(),
				"active_sessions", e.sessions.Count())
		},
	}
	drainer := runner.DrainerFunc(func() error {
		_ = transport.Stop()
		return e.sessions.Drain()
	})
	e.runner = runner.NewLifecycleRunner(drainer, hooks, millis(cfg.Pipeline.DrainTimeoutMS)*2)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// engineForLanguage resolves (and memoizes) the transcription engine
// for a source language, honoring per-language vendor overrides.
func (e *Engine) engineForLanguage(language string) (transcribe.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if eng, ok := e.engines[language]; ok {
		return eng, nil
	}
	vendor := e.cfg.Vendors.Transcribe
	if override, ok := e.cfg.Languages.Overrides[language]; ok {
		vendor = mergeVendor(vendor, override)
	}
	eng, err := e.providers.BuildTranscriber(vendor, language)
	if err != nil {
		return nil, err
	}
	e.engines[language] = eng
	return eng, nil
}

// closeEngines shuts the memoized transcription engines down once the
// sessions using them have drained.
func (e *Engine) closeEngines() {
	e.mu.Lock()
	engines := e.engines
	e.engines = make(map[string]transcribe.Engine)
	e.mu.Unlock()
	for lang, eng := range engines {
		if err := eng.Close(); err != nil {
			slog.Warn("engine_close_failed", "language", lang, "error", err.Error())
		}
	}
}

func mergeVendor(base, override VendorConfig) VendorConfig {
	out := VendorConfig{
		Provider: base.Provider,
		Settings: make(map[string]any, len(base.Settings)),
	}
	for k, v := range base.Settings {
		out.Settings[k] = v
	}
	if strings.TrimSpace(override.Provider) != "" {
		out.Provider = override.Provider
	}
	for k, v := range override.Settings {
		out.Settings[k] = v
	}
	return out
}

// Start brings up the transport, the session reaper and the cache
// sweeper, then hands control to the lifecycle runner.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	go e.sessions.Run(e.ctx)
	go e.cache.Run(e.ctx, millis(e.cfg.Pipeline.CacheSweepMS))
	go e.runRunner(ctx)
	return nil
}

func (e *Engine) runRunner(ctx context.Context) {
	_ = e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	e.cancel()
	return e.runner.Stop()
}

func (e *Engine) Sessions() *session.Manager      { return e.sessions }
func (e *Engine) Transport() transports.Transport { return e.transport }
func (e *Engine) Providers() *ProviderRegistry    { return e.providers }
func (e *Engine) Config() Config                  { return e.cfg }

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}

// SetDefaultLogger installs the process-wide structured logger.
func SetDefaultLogger(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(logging.InitLogger(lvl))
}
