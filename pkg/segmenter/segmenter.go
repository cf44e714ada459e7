package segmenter

import (
	"time"

	"github.com/transflow/transflow/pkg/audio"
	"github.com/transflow/transflow/pkg/frames"
	"github.com/transflow/transflow/pkg/vad"
)

// Segment is an ordered run of canonical audio cut out of one capture
// stream. Sequence ranges of consecutive segments never overlap; when
// a force-close seeds the next segment with a tail of this one, the
// repeated audio is accounted for by the next segment's Overlap.
type Segment struct {
	SessionID string
	Source    string

	StartSeq uint64
	EndSeq   uint64
	StartPTS int64
	EndPTS   int64

	PCM []byte

	IsSpeech    bool
	ForceClosed bool
	Stalled     bool
	GapBefore   bool
	Overlap     time.Duration
}

func (s *Segment) Duration() time.Duration {
	return audio.DurationOf(s.PCM)
}

type Config struct {
	TargetDuration time.Duration
	MaxDuration    time.Duration
	OverlapTail    time.Duration
	MinSpeech      time.Duration
	StallTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TargetDuration <= 0 {
		c.TargetDuration = 5 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 10 * time.Second
	}
	if c.MaxDuration < c.TargetDuration {
		c.MaxDuration = c.TargetDuration
	}
	if c.OverlapTail <= 0 {
		c.OverlapTail = 500 * time.Millisecond
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 300 * time.Millisecond
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 2 * time.Second
	}
	return c
}

type state int

const (
	stateIdle state = iota
	stateCollecting
)

// Buffer accumulates frames from one capture stream and cuts segments
// at speech boundaries, preferring silence cuts and force-closing at
// the maximum duration regardless of voice activity. One Buffer per
// stream; not safe for concurrent use.
type Buffer struct {
	cfg       Config
	sessionID string
	source    string

	st         state
	pcm        []byte
	startSeq   uint64
	endSeq     uint64
	startPTS   int64
	endPTS     int64
	speechDur  time.Duration
	lastPush   time.Time
	gapPending bool
	seedPCM    []byte
	seeded     bool
	havePrev   bool
	prevSeq    uint64
}

func NewBuffer(sessionID, source string, cfg Config) *Buffer {
	return &Buffer{
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		source:    source,
	}
}

// Push folds one frame into the buffer and returns a completed segment
// when a boundary condition fires, nil otherwise.
func (b *Buffer) Push(f frames.AudioFrame, dec vad.Decision) *Segment {
	b.lastPush = time.Now()

	var closed *Segment
	if b.havePrev && f.Seq() != b.prevSeq+1 {
		// Sequence gap: close what we hold and mark the break so no
		// frame loss goes unaccounted.
		closed = b.close()
		b.gapPending = true
	}
	b.havePrev = true
	b.prevSeq = f.Seq()

	b.append(f, dec)

	if closed != nil {
		return closed
	}

	dur := audio.DurationOf(b.pcm) - b.overlapHeld()
	switch {
	case dec.Changed && !dec.Speech && b.speechDur >= b.cfg.MinSpeech:
		return b.close()
	case dur >= b.cfg.MaxDuration:
		seg := b.closeForced()
		return seg
	case dur >= b.cfg.TargetDuration && !dec.Speech:
		return b.close()
	}
	return nil
}

// Tick flushes the buffer when no frame has arrived within the stall
// timeout. The returned segment, if any, is marked Stalled.
func (b *Buffer) Tick(now time.Time) *Segment {
	if b.st != stateCollecting {
		return nil
	}
	if now.Sub(b.lastPush) < b.cfg.StallTimeout {
		return nil
	}
	seg := b.close()
	if seg != nil {
		seg.Stalled = true
	}
	return seg
}

// Flush closes whatever the buffer holds, for session stop.
func (b *Buffer) Flush() *Segment {
	return b.close()
}

func (b *Buffer) append(f frames.AudioFrame, dec vad.Decision) {
	if b.st == stateIdle {
		b.st = stateCollecting
		b.startSeq = f.Seq()
		b.startPTS = f.PTS()
		b.speechDur = 0
		if len(b.seedPCM) > 0 {
			b.pcm = append(b.pcm[:0], b.seedPCM...)
			b.seeded = true
			b.seedPCM = nil
		} else {
			b.pcm = b.pcm[:0]
			b.seeded = false
		}
	}
	b.pcm = append(b.pcm, f.RawPayload()...)
	b.endSeq = f.Seq()
	b.endPTS = f.PTS()
	if dec.Speech {
		b.speechDur += f.Duration()
	}
}

func (b *Buffer) overlapHeld() time.Duration {
	if !b.seeded {
		return 0
	}
	return b.cfg.OverlapTail
}

func (b *Buffer) close() *Segment {
	if b.st != stateCollecting || len(b.pcm) == 0 {
		b.st = stateIdle
		return nil
	}
	seg := &Segment{
		SessionID: b.sessionID,
		Source:    b.source,
		StartSeq:  b.startSeq,
		EndSeq:    b.endSeq,
		StartPTS:  b.startPTS,
		EndPTS:    b.endPTS,
		PCM:       append([]byte(nil), b.pcm...),
		IsSpeech:  b.speechDur >= b.cfg.MinSpeech,
		GapBefore: b.gapPending,
		Overlap:   b.overlapHeld(),
	}
	b.gapPending = false
	b.st = stateIdle
	b.pcm = b.pcm[:0]
	b.seeded = false
	return seg
}

func (b *Buffer) closeForced() *Segment {
	tail := b.overlapBytes()
	seg := b.close()
	if seg == nil {
		return nil
	}
	seg.ForceClosed = true
	// Seed the next segment with the tail so words split at the cut
	// are not lost.
	b.seedPCM = tail
	return seg
}

func (b *Buffer) overlapBytes() []byte {
	n := int(b.cfg.OverlapTail.Seconds()*audio.CanonicalRate) * 2
	if n <= 0 || n >= len(b.pcm) {
		return nil
	}
	return append([]byte(nil), b.pcm[len(b.pcm)-n:]...)
}
