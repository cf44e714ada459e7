package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/transflow/transflow/pkg/translate"
)

// Translator is a scriptable backend for tests. With no script it
// echoes the input wrapped in brackets so assertions can see both the
// source and the target language.
type Translator struct {
	mu     sync.Mutex
	errs   []error
	calls  []translate.Request
	frozen string
}

func New() *Translator {
	return &Translator{}
}

func (t *Translator) Name() string { return "mock" }

// FailNext queues errors returned by upcoming calls, in order.
func (t *Translator) FailNext(errs ...error) {
	t.mu.Lock()
	t.errs = append(t.errs, errs...)
	t.mu.Unlock()
}

// Freeze makes every successful call return the same translation.
func (t *Translator) Freeze(result string) {
	t.mu.Lock()
	t.frozen = result
	t.mu.Unlock()
}

// Calls returns the requests seen so far.
func (t *Translator) Calls() []translate.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]translate.Request, len(t.calls))
	copy(out, t.calls)
	return out
}

func (t *Translator) Translate(_ context.Context, req translate.Request) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, req)
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		return "", err
	}
	if t.frozen != "" {
		return t.frozen, nil
	}
	return fmt.Sprintf("[%s] %s", req.TargetLang, req.Text), nil
}

var _ translate.Translator = (*Translator)(nil)
