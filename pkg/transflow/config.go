package transflow

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/transflow/transflow/pkg/segmenter"
	"github.com/transflow/transflow/pkg/session"
	"github.com/transflow/transflow/pkg/translate"
	"github.com/transflow/transflow/pkg/vad"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transport     map[string]any      `mapstructure:"transport"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Languages     LanguageConfig      `mapstructure:"languages"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// VendorConfig names a provider and carries its free-form settings,
// decoded by each factory through configutil.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Transcribe VendorConfig `mapstructure:"transcribe"`
	Translate  VendorConfig `mapstructure:"translate"`
}

// PipelineConfig collects every tunable of the audio path. Durations
// are milliseconds.
type PipelineConfig struct {
	FrameDurationMS      int     `mapstructure:"frame_duration_ms"`
	EnergyThreshold      float64 `mapstructure:"energy_threshold"`
	ZCRThreshold         float64 `mapstructure:"zcr_threshold"`
	NoiseFloorMultiplier float64 `mapstructure:"noise_floor_multiplier"`
	HistoryFrames        int     `mapstructure:"history_frames"`
	DebounceFrames       int     `mapstructure:"debounce_frames"`
	HangoverFrames       int     `mapstructure:"hangover_frames"`

	TargetSegmentMS int `mapstructure:"target_segment_ms"`
	MaxSegmentMS    int `mapstructure:"max_segment_ms"`
	OverlapMS       int `mapstructure:"overlap_ms"`
	MinSpeechMS     int `mapstructure:"min_speech_ms"`
	StallTimeoutMS  int `mapstructure:"stall_timeout_ms"`

	SentenceDelimiters string `mapstructure:"sentence_delimiters"`
	FlushTimeoutMS     int    `mapstructure:"flush_timeout_ms"`
	MaxSentenceRunes   int    `mapstructure:"max_sentence_runes"`
	ContextWindow      int    `mapstructure:"context_window"`

	CacheCapacity int `mapstructure:"cache_capacity"`
	CacheTTLMS    int `mapstructure:"cache_ttl_ms"`
	CacheSweepMS  int `mapstructure:"cache_sweep_ms"`

	MaxInFlight        int `mapstructure:"max_in_flight"`
	TranscribeRetries  int `mapstructure:"transcribe_retries"`
	RetryBackoffMS     int `mapstructure:"retry_backoff_ms"`
	DrainTimeoutMS     int `mapstructure:"drain_timeout_ms"`
	HeartbeatTimeoutMS int `mapstructure:"heartbeat_timeout_ms"`

	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type LanguageConfig struct {
	DefaultSource string `mapstructure:"default_source"`
	DefaultTarget string `mapstructure:"default_target"`

	// Overrides picks a different transcriber per source language.
	Overrides map[string]VendorConfig `mapstructure:"overrides"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	MetricsPath string  `mapstructure:"metrics_path"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("pipeline.frame_duration_ms", 20)
	v.SetDefault("pipeline.energy_threshold", 0.01)
	v.SetDefault("pipeline.zcr_threshold", 0.25)
	v.SetDefault("pipeline.noise_floor_multiplier", 2.0)
	v.SetDefault("pipeline.history_frames", 100)
	v.SetDefault("pipeline.debounce_frames", 10)
	v.SetDefault("pipeline.hangover_frames", 30)
	v.SetDefault("pipeline.target_segment_ms", 5000)
	v.SetDefault("pipeline.max_segment_ms", 10000)
	v.SetDefault("pipeline.overlap_ms", 500)
	v.SetDefault("pipeline.min_speech_ms", 300)
	v.SetDefault("pipeline.stall_timeout_ms", 2000)
	v.SetDefault("pipeline.sentence_delimiters", translate.DefaultDelimiters)
	v.SetDefault("pipeline.flush_timeout_ms", 3000)
	v.SetDefault("pipeline.max_sentence_runes", 500)
	v.SetDefault("pipeline.context_window", 5)
	v.SetDefault("pipeline.cache_capacity", 256)
	v.SetDefault("pipeline.cache_ttl_ms", 600000)
	v.SetDefault("pipeline.cache_sweep_ms", 60000)
	v.SetDefault("pipeline.max_in_flight", 2)
	v.SetDefault("pipeline.transcribe_retries", 2)
	v.SetDefault("pipeline.retry_backoff_ms", 200)
	v.SetDefault("pipeline.drain_timeout_ms", 5000)
	v.SetDefault("pipeline.heartbeat_timeout_ms", 60000)
	v.SetDefault("pipeline.breaker_threshold", 3)
	v.SetDefault("pipeline.breaker_cooldown_ms", 30000)
	v.SetDefault("languages.default_source", "auto")
	v.SetDefault("languages.default_target", "en")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.sample_rate", 1.0)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.Vendors.Transcribe.Settings = expandSettings(cfg.Vendors.Transcribe.Settings)
	cfg.Vendors.Translate.Settings = expandSettings(cfg.Vendors.Translate.Settings)
	cfg.Transport = expandSettings(cfg.Transport)
	for lang, override := range cfg.Languages.Overrides {
		override.Settings = expandSettings(override.Settings)
		cfg.Languages.Overrides[lang] = override
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.Transcribe.Provider) == "" {
		return fmt.Errorf("vendors.transcribe.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Translate.Provider) == "" {
		return fmt.Errorf("vendors.translate.provider is required")
	}
	if err := translate.ValidateLanguagePair(c.Languages.DefaultSource, c.Languages.DefaultTarget); err != nil {
		return fmt.Errorf("languages: %w", err)
	}
	return nil
}

// SessionConfig maps the pipeline tunables onto the orchestrator's
// configuration.
func (c *Config) SessionConfig() session.Config {
	p := c.Pipeline
	return session.Config{
		VAD: vad.Config{
			EnergyThreshold:      p.EnergyThreshold,
			ZCRThreshold:         p.ZCRThreshold,
			NoiseFloorMultiplier: p.NoiseFloorMultiplier,
			HistorySize:          p.HistoryFrames,
			DebounceFrames:       p.DebounceFrames,
			HangoverFrames:       p.HangoverFrames,
		},
		Segmenter: segmenter.Config{
			TargetDuration: millis(p.TargetSegmentMS),
			MaxDuration:    millis(p.MaxSegmentMS),
			OverlapTail:    millis(p.OverlapMS),
			MinSpeech:      millis(p.MinSpeechMS),
			StallTimeout:   millis(p.StallTimeoutMS),
		},
		FrameDuration:     millis(p.FrameDurationMS),
		MaxInFlight:       p.MaxInFlight,
		TranscribeRetries: p.TranscribeRetries,
		RetryBackoff:      millis(p.RetryBackoffMS),
		DrainTimeout:      millis(p.DrainTimeoutMS),
		HeartbeatTimeout:  millis(p.HeartbeatTimeoutMS),
	}
}

func (c *Config) AssemblerConfig() translate.AssemblerConfig {
	return translate.AssemblerConfig{
		Delimiters:   c.Pipeline.SentenceDelimiters,
		FlushTimeout: millis(c.Pipeline.FlushTimeoutMS),
		MaxBuffer:    c.Pipeline.MaxSentenceRunes,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
