package capture

import (
	"context"
	"sync"
	"time"

	"github.com/transflow/transflow/pkg/audio"
)

// MemorySource replays a preloaded PCM buffer in fixed-size chunks.
// Used by tests and by the demo loopback mode; with a zero interval
// the whole buffer is delivered as fast as the consumer accepts it.
type MemorySource struct {
	name     string
	format   audio.Format
	data     []byte
	chunk    int
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewMemorySource(name string, format audio.Format, data []byte, chunk int, interval time.Duration) *MemorySource {
	if chunk <= 0 {
		chunk = 1024
	}
	return &MemorySource{
		name:     name,
		format:   format,
		data:     data,
		chunk:    chunk,
		interval: interval,
	}
}

func (m *MemorySource) Name() string         { return m.name }
func (m *MemorySource) Format() audio.Format { return m.format }

func (m *MemorySource) Start(ctx context.Context, fn PushFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	var ticker *time.Ticker
	if m.interval > 0 {
		ticker = time.NewTicker(m.interval)
		defer ticker.Stop()
	}
	for off := 0; off < len(m.data); off += m.chunk {
		end := off + m.chunk
		if end > len(m.data) {
			end = len(m.data)
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(m.data[off:end], time.Now())
	}
	return nil
}

func (m *MemorySource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}
