package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/logging"
	"github.com/transflow/transflow/pkg/resilience"
	"github.com/transflow/transflow/pkg/translate"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Translator translates sentences through the chat completions API.
type Translator struct {
	cfg    Config
	client openai.Client
	logger *slog.Logger
}

func New(cfg Config) (*Translator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai translator: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Translator{
		cfg:    cfg,
		client: openai.NewClient(opts...),
		logger: logging.NewComponentLogger(slog.Default(), "openai_translator"),
	}, nil
}

func (t *Translator) Name() string { return "openai" }

func (t *Translator) Translate(ctx context.Context, req translate.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: t.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req)),
			openai.UserMessage(req.Text),
		},
		Temperature: openai.Float(t.cfg.Temperature),
		MaxTokens:   openai.Int(t.cfg.MaxTokens),
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", t.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errorsx.Wrap(fmt.Errorf("empty completion response"), errorsx.ReasonTranslateRequest)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (t *Translator) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return errorsx.Wrap(
				resilience.RateLimitError{Provider: "openai", Message: apierr.Error()},
				errorsx.ReasonTranslateRateLimit,
			)
		case apierr.StatusCode >= 500:
			return errorsx.Wrap(err, errorsx.ReasonTranslateRequest)
		default:
			// 4xx: the request itself is bad, retrying will not help.
			return err
		}
	}
	return errorsx.Wrap(err, errorsx.ReasonTranslateRequest)
}

func systemPrompt(req translate.Request) string {
	names := translate.SupportedLanguages()
	src := names[req.SourceLang]
	if src == "" {
		src = req.SourceLang
	}
	dst := names[req.TargetLang]
	if dst == "" {
		dst = req.TargetLang
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional translator. Translate the user's text from %s to %s. ", src, dst)
	sb.WriteString("Output only the translation, with no explanations or quotation marks.")
	if len(req.Context) > 0 {
		sb.WriteString("\n\nRecent translations from the same conversation, for context:\n")
		for _, c := range req.Context {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
