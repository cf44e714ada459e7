package transflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
vendors:
  transcribe:
    provider: mock
  translate:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.TargetSegmentMS != 5000 || cfg.Pipeline.DebounceFrames != 10 {
		t.Fatalf("pipeline defaults not applied: %+v", cfg.Pipeline)
	}
	if cfg.Languages.DefaultSource != "auto" || cfg.Languages.DefaultTarget != "en" {
		t.Fatalf("language defaults not applied: %+v", cfg.Languages)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("redaction should default on")
	}
	sc := cfg.SessionConfig()
	if sc.Segmenter.TargetDuration != 5*time.Second {
		t.Fatalf("segmenter target %v", sc.Segmenter.TargetDuration)
	}
	if sc.VAD.HangoverFrames != 30 {
		t.Fatalf("vad hangover %d", sc.VAD.HangoverFrames)
	}
	ac := cfg.AssemblerConfig()
	if !strings.Contains(ac.Delimiters, "。") {
		t.Fatalf("delimiters lost CJK terminators: %q", ac.Delimiters)
	}
}

func TestLoadConfigRejectsMissingProvider(t *testing.T) {
	path := writeConfig(t, `
vendors:
  transcribe:
    provider: mock
`)
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "translate.provider") {
		t.Fatalf("expected translate provider error, got %v", err)
	}
}

func TestLoadConfigRejectsBadLanguagePair(t *testing.T) {
	path := writeConfig(t, `
vendors:
  transcribe:
    provider: mock
  translate:
    provider: mock
languages:
  default_source: zh
  default_target: xx
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected language validation error")
	}
}

func TestLoadConfigExpandsEnvInSettings(t *testing.T) {
	t.Setenv("TEST_WHISPER_KEY", "sk-123")
	path := writeConfig(t, `
vendors:
  transcribe:
    provider: whisper
    settings:
      api_key: ${TEST_WHISPER_KEY}
  translate:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Vendors.Transcribe.Settings["api_key"]; got != "sk-123" {
		t.Fatalf("env not expanded: %v", got)
	}
}
