package transflow

import (
	"strings"
	"testing"

	"github.com/transflow/transflow/pkg/transcribe"
	tmock "github.com/transflow/transflow/pkg/transcribe/mock"
)

func mockConfig() Config {
	return Config{
		LogLevel: "error",
		Vendors: VendorsConfig{
			Transcribe: VendorConfig{Provider: "mock"},
			Translate:  VendorConfig{Provider: "mock"},
		},
		Languages: LanguageConfig{DefaultSource: "auto", DefaultTarget: "en"},
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.BuildTranscriber(VendorConfig{Provider: "nope"}, "en"); err == nil {
		t.Fatalf("unknown transcriber accepted")
	}
	if _, err := r.BuildTranslator(VendorConfig{Provider: "nope"}); err == nil {
		t.Fatalf("unknown translator accepted")
	}
}

func TestRegistryValidatesWhisperSettings(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.BuildTranscriber(VendorConfig{Provider: "whisper"}, "zh")
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("missing api_key not reported: %v", err)
	}
	_, err = r.BuildTranscriber(VendorConfig{
		Provider: "whisper",
		Settings: map[string]any{"api_key": "sk-1", "modle": "x"},
	}, "zh")
	if err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("typo key not reported: %v", err)
	}
}

func TestRegistryIsCaseInsensitive(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.BuildTranscriber(VendorConfig{Provider: " Mock "}, "en"); err != nil {
		t.Fatalf("provider lookup failed: %v", err)
	}
}

func TestEngineResolvesLanguageOverrides(t *testing.T) {
	base := tmock.New()
	override := tmock.New()
	r := NewProviderRegistry()
	r.RegisterTranscriber("base", func(VendorConfig, string) (transcribe.Engine, error) {
		return base, nil
	})
	r.RegisterTranscriber("special", func(VendorConfig, string) (transcribe.Engine, error) {
		return override, nil
	})
	r.RegisterTranslator("mock", DefaultRegistry().translators["mock"])

	cfg := mockConfig()
	cfg.Vendors.Transcribe.Provider = "base"
	cfg.Languages.Overrides = map[string]VendorConfig{
		"ja": {Provider: "special"},
	}
	e, err := NewEngine(EngineOptions{Config: cfg, Providers: r})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer func() { _ = e.Stop() }()

	got, err := e.engineForLanguage("zh")
	if err != nil || got != base {
		t.Fatalf("default language resolved wrong engine: %v", err)
	}
	got, err = e.engineForLanguage("ja")
	if err != nil || got != override {
		t.Fatalf("override language resolved wrong engine: %v", err)
	}
	again, _ := e.engineForLanguage("ja")
	if again != got {
		t.Fatalf("engine not memoized per language")
	}
}

func TestEngineHealthAndStop(t *testing.T) {
	e, err := NewEngine(EngineOptions{Config: mockConfig()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}
	if e.Sessions() == nil || e.Transport() == nil {
		t.Fatalf("engine missing collaborators")
	}
	_ = e.Stop()
}
