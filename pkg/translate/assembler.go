package translate

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/transflow/transflow/pkg/transcribe"
)

// FlushReason records why a sentence left the assembler.
type FlushReason string

const (
	FlushDelimiter FlushReason = "delimiter"
	FlushTimeout   FlushReason = "timeout"
	FlushMaxLength FlushReason = "max_length"
	FlushForced    FlushReason = "forced"
)

// Sentence is one assembled unit of transcript text, ready for
// translation.
type Sentence struct {
	SessionID string
	Source    string
	Language  string
	Text      string
	PTS       int64
	Reason    FlushReason
}

// DefaultDelimiters covers Latin, CJK and fullwidth sentence
// terminators.
const DefaultDelimiters = ".!?。！？；…\n"

type AssemblerConfig struct {
	Delimiters   string
	FlushTimeout time.Duration
	MaxBuffer    int
}

func (c AssemblerConfig) withDefaults() AssemblerConfig {
	if c.Delimiters == "" {
		c.Delimiters = DefaultDelimiters
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 3 * time.Second
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 500
	}
	return c
}

// Assembler accumulates transcript fragments per (session, source)
// and cuts them into sentences. At most one unit is open per pair; a
// unit is always flushed before the next one starts.
type Assembler struct {
	mu    sync.Mutex
	cfg   AssemblerConfig
	units map[string]*unit
}

type unit struct {
	sb       strings.Builder
	language string
	firstPTS int64
	lastAt   time.Time
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	return &Assembler{
		cfg:   cfg.withDefaults(),
		units: make(map[string]*unit),
	}
}

// Feed appends one fragment and returns any sentences it completed.
// Text after the last delimiter stays buffered for the next call.
func (a *Assembler) Feed(sessionID, source string, frag transcribe.Fragment) []Sentence {
	if strings.TrimSpace(frag.Text) == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := sessionID + "/" + source
	u := a.units[key]
	if u == nil {
		u = &unit{}
		a.units[key] = u
	}
	if u.sb.Len() == 0 {
		u.firstPTS = frag.StartPTS
	}
	if frag.Language != "" {
		u.language = frag.Language
	}
	u.sb.WriteString(frag.Text)
	u.lastAt = time.Now()

	var out []Sentence
	text := u.sb.String()
	if idx := a.lastDelimiter(text); idx >= 0 {
		head := strings.TrimSpace(text[:idx+1])
		tail := strings.TrimSpace(text[idx+1:])
		if head != "" {
			out = append(out, a.sentence(sessionID, source, u, head, FlushDelimiter))
		}
		u.sb.Reset()
		u.sb.WriteString(tail)
		if tail != "" {
			u.firstPTS = frag.EndPTS
		}
		text = tail
	}
	if utf8.RuneCountInString(text) >= a.cfg.MaxBuffer {
		out = append(out, a.sentence(sessionID, source, u, strings.TrimSpace(text), FlushMaxLength))
		u.sb.Reset()
	}
	return out
}

// Tick flushes the given session's units whose last fragment is older
// than the flush timeout, so delimiter-less speech is not held
// indefinitely. Scoped to one session: each session's ticker must only
// ever drain its own units.
func (a *Assembler) Tick(sessionID string, now time.Time) []Sentence {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Sentence
	for key, u := range a.units {
		sid, source := splitKey(key)
		if sid != sessionID || u.sb.Len() == 0 {
			continue
		}
		if now.Sub(u.lastAt) < a.cfg.FlushTimeout {
			continue
		}
		out = append(out, a.sentence(sessionID, source, u, strings.TrimSpace(u.sb.String()), FlushTimeout))
		u.sb.Reset()
	}
	return out
}

// FlushSession drains every open unit of one session, for teardown.
func (a *Assembler) FlushSession(sessionID string) []Sentence {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Sentence
	for key, u := range a.units {
		sid, source := splitKey(key)
		if sid != sessionID {
			continue
		}
		if text := strings.TrimSpace(u.sb.String()); text != "" {
			out = append(out, a.sentence(sessionID, source, u, text, FlushForced))
		}
		delete(a.units, key)
	}
	return out
}

func (a *Assembler) sentence(sessionID, source string, u *unit, text string, reason FlushReason) Sentence {
	return Sentence{
		SessionID: sessionID,
		Source:    source,
		Language:  u.language,
		Text:      text,
		PTS:       u.firstPTS,
		Reason:    reason,
	}
}

// lastDelimiter returns the byte index of the final rune of the last
// terminal delimiter in text, or -1.
func (a *Assembler) lastDelimiter(text string) int {
	idx := -1
	for _, d := range a.cfg.Delimiters {
		if i := strings.LastIndex(text, string(d)); i >= 0 {
			end := i + utf8.RuneLen(d) - 1
			if end > idx {
				idx = end
			}
		}
	}
	return idx
}

func splitKey(key string) (string, string) {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
