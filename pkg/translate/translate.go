package translate

import "context"

// Request is one translation call. Context carries recent prior
// sentences from the same session, oldest first.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
	Context    []string
}

// Translator performs a single translation call. Implementations wrap
// provider errors with pkg/errorsx reasons so the service can tell
// transient failures from permanent ones.
type Translator interface {
	Name() string
	Translate(ctx context.Context, req Request) (string, error)
}

// Item is the outcome of translating one flushed sentence. A failed
// translation keeps the source text and carries the error; the
// transcript is never discarded because translation failed.
type Item struct {
	SessionID   string
	Source      string
	SourceText  string
	Translation string
	SourceLang  string
	TargetLang  string
	PTS         int64
	Cached      bool
	Err         error
}
