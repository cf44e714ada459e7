package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/transflow/transflow/pkg/errorsx"
	"github.com/transflow/transflow/pkg/segmenter"
)

// Fragment is the text produced for one submitted segment.
type Fragment struct {
	Text     string
	Language string
	StartPTS int64
	EndPTS   int64
	Final    bool
}

// Result delivers either a fragment or a reasoned error. Transient
// errors may be retried by the caller; permanent ones may not.
type Result struct {
	Fragment Fragment
	Err      error
}

// Engine transcribes one segment at a time. Submit never blocks on the
// network; delivery happens on the returned channel, which is closed
// after the single result. Submit itself fails fast on input that
// violates the engine's constraints.
type Engine interface {
	Name() string
	Submit(ctx context.Context, seg *segmenter.Segment) (<-chan Result, error)
	Close() error
}

// DefaultMaxSegmentDuration bounds a single submission. Oversized
// segments are rejected rather than truncated so the caller decides
// how to split.
const DefaultMaxSegmentDuration = 30 * time.Second

// ValidateSegment enforces the shared input constraints.
func ValidateSegment(seg *segmenter.Segment, maxDur time.Duration) error {
	if maxDur <= 0 {
		maxDur = DefaultMaxSegmentDuration
	}
	if seg == nil || len(seg.PCM) == 0 {
		return errorsx.Wrap(fmt.Errorf("segment holds no audio"), errorsx.ReasonSegmentEmpty)
	}
	if d := seg.Duration(); d > maxDur {
		return errorsx.Wrap(
			fmt.Errorf("segment of %v exceeds the %v submission bound", d, maxDur),
			errorsx.ReasonSegmentTooLong,
		)
	}
	return nil
}
