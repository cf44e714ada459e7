package capture

import (
	"context"
	"time"

	"github.com/transflow/transflow/pkg/audio"
)

// PushFunc receives one chunk of raw PCM in the source's declared
// format, stamped with the capture time. Implementations must treat
// the slice as read-only and must not retain it past the call.
type PushFunc func(chunk []byte, ts time.Time)

// Source is one capturable audio stream. Start delivers chunks to fn
// until the context is cancelled or Stop is called. A missing chunk
// beyond the pipeline's stall timeout is a recoverable gap, not an
// error from the source.
type Source interface {
	Name() string
	Format() audio.Format
	Start(ctx context.Context, fn PushFunc) error
	Stop() error
}

// DeviceInfo describes one enumerable capture target.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Inventory is the answer to a source enumeration request.
type Inventory struct {
	Applications []DeviceInfo `json:"applications"`
	Devices      []DeviceInfo `json:"devices"`
}

// Enumerator lists capturable sources. Platform integrations plug in
// here; the default is a static inventory for headless deployments.
type Enumerator interface {
	ListSources(ctx context.Context) (Inventory, error)
}

type StaticEnumerator struct {
	Apps    []DeviceInfo
	Devices []DeviceInfo
}

func (s StaticEnumerator) ListSources(context.Context) (Inventory, error) {
	return Inventory{Applications: s.Apps, Devices: s.Devices}, nil
}
