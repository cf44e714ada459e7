package frames

import (
	"sync"
	"time"
)

const (
	MetaSessionID = "session_id"
	MetaSource    = "source"
)

// Source tags for the two capture streams.
const (
	SourceSystem     = "system"
	SourceMicrophone = "microphone"
)

// AudioFrame is a fixed-size slice of canonical-format samples (16 kHz mono
// s16le) tagged with a monotonic sequence number and capture timestamp.
// Immutable once produced; ownership moves with the frame.
type AudioFrame struct {
	seq  uint64
	pts  int64
	data []byte
	rate int
	ch   int
	meta map[string]string
}

func NewAudioFrame(sessionID string, seq uint64, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		seq:  seq,
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(sessionID, meta),
	}
}

func (a AudioFrame) Seq() uint64             { return a.seq }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) Source() string          { return a.meta[MetaSource] }

// Duration derives the frame duration from its payload length and format.
func (a AudioFrame) Duration() time.Duration {
	if a.rate <= 0 || a.ch <= 0 {
		return 0
	}
	samples := len(a.data) / (2 * a.ch)
	return time.Duration(samples) * time.Second / time.Duration(a.rate)
}

// SeqGen hands out per-stream monotonic sequence numbers.
type SeqGen struct {
	mu    sync.Mutex
	value map[string]uint64
}

func NewSeqGen() *SeqGen {
	return &SeqGen{value: make(map[string]uint64)}
}

func (g *SeqGen) Next(streamKey string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamKey] + 1
	g.value[streamKey] = v
	return v
}

func mergeMeta(sessionID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if sessionID != "" {
		out[MetaSessionID] = sessionID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
