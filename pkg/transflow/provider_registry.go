package transflow

import (
	"fmt"
	"strings"

	"github.com/transflow/transflow/pkg/configutil"
	"github.com/transflow/transflow/pkg/transcribe"
	"github.com/transflow/transflow/pkg/transcribe/deepgram"
	tmock "github.com/transflow/transflow/pkg/transcribe/mock"
	"github.com/transflow/transflow/pkg/transcribe/whisper"
	"github.com/transflow/transflow/pkg/translate"
	trmock "github.com/transflow/transflow/pkg/translate/mock"
	"github.com/transflow/transflow/pkg/translate/openai"
)

// TranscriberFactory builds a transcription engine for one source
// language from the vendor's free-form settings.
type TranscriberFactory func(vendor VendorConfig, language string) (transcribe.Engine, error)

type TranslatorFactory func(vendor VendorConfig) (translate.Translator, error)

type ProviderRegistry struct {
	transcribers map[string]TranscriberFactory
	translators  map[string]TranslatorFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		transcribers: make(map[string]TranscriberFactory),
		translators:  make(map[string]TranslatorFactory),
	}
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[normalizeProvider(name)] = factory
}

func (r *ProviderRegistry) RegisterTranslator(name string, factory TranslatorFactory) {
	r.translators[normalizeProvider(name)] = factory
}

func (r *ProviderRegistry) BuildTranscriber(vendor VendorConfig, language string) (transcribe.Engine, error) {
	fn := r.transcribers[normalizeProvider(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcribe provider not registered: %s", vendor.Provider)
	}
	return fn(vendor, language)
}

func (r *ProviderRegistry) BuildTranslator(vendor VendorConfig) (translate.Translator, error) {
	fn := r.translators[normalizeProvider(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("translate provider not registered: %s", vendor.Provider)
	}
	return fn(vendor)
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultRegistry wires the built-in providers.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterTranscriber("whisper", buildWhisper)
	r.RegisterTranscriber("deepgram", buildDeepgram)
	r.RegisterTranscriber("mock", func(VendorConfig, string) (transcribe.Engine, error) {
		return tmock.New(), nil
	})
	r.RegisterTranslator("openai", buildOpenAITranslator)
	r.RegisterTranslator("mock", func(VendorConfig) (translate.Translator, error) {
		return trmock.New(), nil
	})
	return r
}

type whisperSettings struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

func buildWhisper(vendor VendorConfig, language string) (transcribe.Engine, error) {
	if err := configutil.ValidateSettings(vendor.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"base_url", "model", "request_timeout"},
	}); err != nil {
		return nil, fmt.Errorf("whisper settings: %w", err)
	}
	var s whisperSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, fmt.Errorf("whisper settings: %w", err)
	}
	return whisper.New(whisper.Config{
		APIKey:         s.APIKey,
		BaseURL:        s.BaseURL,
		Model:          s.Model,
		Language:       language,
		RequestTimeout: configutil.DurationValue(s.RequestTimeout, 0),
	})
}

type deepgramSettings struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	ResultTimeout string `mapstructure:"result_timeout"`
}

func buildDeepgram(vendor VendorConfig, language string) (transcribe.Engine, error) {
	if err := configutil.ValidateSettings(vendor.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "result_timeout"},
	}); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	return deepgram.New(deepgram.Config{
		APIKey:        s.APIKey,
		Model:         s.Model,
		Language:      language,
		ResultTimeout: configutil.DurationValue(s.ResultTimeout, 0),
	})
}

type openaiSettings struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
}

func buildOpenAITranslator(vendor VendorConfig) (translate.Translator, error) {
	if err := configutil.ValidateSettings(vendor.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"base_url", "model", "temperature", "max_tokens"},
	}); err != nil {
		return nil, fmt.Errorf("openai settings: %w", err)
	}
	var s openaiSettings
	if err := configutil.DecodeSettings(vendor.Settings, &s); err != nil {
		return nil, fmt.Errorf("openai settings: %w", err)
	}
	return openai.New(openai.Config{
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	})
}
