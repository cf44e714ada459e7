package translate

import (
	"fmt"

	"github.com/transflow/transflow/pkg/errorsx"
)

// LanguageAuto lets the transcription engine detect the source
// language per segment.
const LanguageAuto = "auto"

var supportedLanguages = map[string]string{
	"zh":         "Chinese",
	"en":         "English",
	"ja":         "Japanese",
	"ko":         "Korean",
	LanguageAuto: "Auto Detect",
}

// SupportedLanguages returns code → display name for every language
// the pipeline accepts.
func SupportedLanguages() map[string]string {
	out := make(map[string]string, len(supportedLanguages))
	for k, v := range supportedLanguages {
		out[k] = v
	}
	return out
}

// ValidateLanguagePair rejects unsupported codes. Auto is only valid
// as a source language.
func ValidateLanguagePair(source, target string) error {
	if _, ok := supportedLanguages[source]; !ok {
		return errorsx.Wrap(
			fmt.Errorf("source language %q is not supported", source),
			errorsx.ReasonUnsupportedLanguage,
		)
	}
	if target == LanguageAuto {
		return errorsx.Wrap(
			fmt.Errorf("target language cannot be %q", LanguageAuto),
			errorsx.ReasonUnsupportedLanguage,
		)
	}
	if _, ok := supportedLanguages[target]; !ok {
		return errorsx.Wrap(
			fmt.Errorf("target language %q is not supported", target),
			errorsx.ReasonUnsupportedLanguage,
		)
	}
	return nil
}
