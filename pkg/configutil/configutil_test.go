package configutil

import (
	"testing"
	"time"
)

type engineSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var s engineSettings
	in := map[string]any{
		"API-KEY":  "sk-test",
		"model":    "whisper-1",
		"Language": "zh",
	}
	if err := DecodeSettings(in, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.APIKey != "sk-test" || s.Model != "whisper-1" || s.Language != "zh" {
		t.Fatalf("unexpected decode result: %+v", s)
	}
}

func TestDecodeSettingsParsesDurations(t *testing.T) {
	var s struct {
		Timeout time.Duration `mapstructure:"timeout"`
	}
	if err := DecodeSettings(map[string]any{"timeout": "10s"}, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want 10s", s.Timeout)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	schema := Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}
	err := ValidateSettings(map[string]any{"modle": "typo"}, schema)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	want := "missing: api_key; unknown: modle"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestDurationValueFallback(t *testing.T) {
	if got := DurationValue("", time.Second); got != time.Second {
		t.Fatalf("empty value: got %v", got)
	}
	if got := DurationValue("bogus", time.Second); got != time.Second {
		t.Fatalf("malformed value: got %v", got)
	}
	if got := DurationValue("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("parsed value: got %v", got)
	}
}
