package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/transflow/transflow/pkg/segmenter"
	"github.com/transflow/transflow/pkg/transcribe"
)

// Response scripts one Submit outcome. Delay postpones delivery so
// tests can force out-of-order completion.
type Response struct {
	Result transcribe.Result
	Delay  time.Duration
}

// Engine is a scriptable transcription backend for tests. Responses
// enqueued with EnqueueAt are matched to the segment starting at that
// PTS regardless of submission order; plain Enqueue responses are
// consumed in submission order. When the script runs out, Submit
// echoes a synthetic transcript.
type Engine struct {
	mu        sync.Mutex
	script    []Response
	keyed     map[int64]Response
	submitted []*segmenter.Segment
	maxDur    time.Duration
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string { return "mock" }

func (e *Engine) Enqueue(r Response) {
	e.mu.Lock()
	e.script = append(e.script, r)
	e.mu.Unlock()
}

// EnqueueAt scripts the outcome for the segment whose StartPTS matches,
// so concurrent submissions cannot shuffle the pairing.
func (e *Engine) EnqueueAt(startPTS int64, r Response) {
	e.mu.Lock()
	if e.keyed == nil {
		e.keyed = make(map[int64]Response)
	}
	e.keyed[startPTS] = r
	e.mu.Unlock()
}

// Submitted returns the segments seen so far, in order.
func (e *Engine) Submitted() []*segmenter.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*segmenter.Segment, len(e.submitted))
	copy(out, e.submitted)
	return out
}

func (e *Engine) Submit(ctx context.Context, seg *segmenter.Segment) (<-chan transcribe.Result, error) {
	if err := transcribe.ValidateSegment(seg, e.maxDur); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.submitted = append(e.submitted, seg)
	n := len(e.submitted)
	var resp Response
	if r, ok := e.keyed[seg.StartPTS]; ok {
		resp = r
		delete(e.keyed, seg.StartPTS)
	} else if len(e.script) > 0 {
		resp = e.script[0]
		e.script = e.script[1:]
	} else {
		resp = Response{Result: transcribe.Result{Fragment: transcribe.Fragment{
			Text:     fmt.Sprintf("transcript %d", n),
			Language: "en",
			StartPTS: seg.StartPTS,
			EndPTS:   seg.EndPTS,
			Final:    true,
		}}}
	}
	e.mu.Unlock()

	out := make(chan transcribe.Result, 1)
	go func() {
		defer close(out)
		if resp.Delay > 0 {
			select {
			case <-ctx.Done():
				out <- transcribe.Result{Err: ctx.Err()}
				return
			case <-time.After(resp.Delay):
			}
		}
		if resp.Result.Fragment.StartPTS == 0 && resp.Result.Err == nil {
			resp.Result.Fragment.StartPTS = seg.StartPTS
			resp.Result.Fragment.EndPTS = seg.EndPTS
		}
		out <- resp.Result
	}()
	return out, nil
}

func (e *Engine) Close() error { return nil }

var _ transcribe.Engine = (*Engine)(nil)
