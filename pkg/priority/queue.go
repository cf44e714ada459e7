package priority

import (
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of queue traffic. LowDrop counts
// best-effort events rejected because the low lane was full.
type Stats struct {
	HighPush int64
	LowPush  int64
	HighPop  int64
	LowPop   int64
	LowDrop  int64
}

// Queue is a two-lane outbound buffer. Result events go to the high
// lane and are never dropped by the queue itself; visualization data
// goes to the low lane and may be rejected under load.
type Queue interface {
	TryPushHigh(v any) bool
	TryPushLow(v any) bool
	Pop() (any, bool)
	Close()
	Stats() Stats
}

type PriorityQueue struct {
	high     chan any
	low      chan any
	fairness int

	closeOnce sync.Once
	closed    chan struct{}

	highPush int64
	lowPush  int64
	highPop  int64
	lowPop   int64
	lowDrop  int64
	streak   int
}

func New(highCap, lowCap, fairness int) *PriorityQueue {
	if highCap <= 0 {
		highCap = 256
	}
	if lowCap <= 0 {
		lowCap = 64
	}
	if fairness <= 0 {
		fairness = 3
	}
	return &PriorityQueue{
		high:     make(chan any, highCap),
		low:      make(chan any, lowCap),
		fairness: fairness,
		closed:   make(chan struct{}),
	}
}

func (q *PriorityQueue) TryPushHigh(v any) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.high <- v:
		atomic.AddInt64(&q.highPush, 1)
		return true
	default:
		return false
	}
}

func (q *PriorityQueue) TryPushLow(v any) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.low <- v:
		atomic.AddInt64(&q.lowPush, 1)
		return true
	default:
		atomic.AddInt64(&q.lowDrop, 1)
		return false
	}
}

// Pop blocks until a value is available or the queue is closed and the
// high lane drained. Only one goroutine may call Pop.
func (q *PriorityQueue) Pop() (any, bool) {
	// Give the low lane a turn after a run of high pops so level data
	// is not starved forever by a result burst.
	if q.streak >= q.fairness {
		select {
		case v := <-q.low:
			q.streak = 0
			atomic.AddInt64(&q.lowPop, 1)
			return v, true
		default:
		}
	}
	select {
	case v := <-q.high:
		q.streak++
		atomic.AddInt64(&q.highPop, 1)
		return v, true
	default:
	}
	select {
	case v := <-q.high:
		q.streak++
		atomic.AddInt64(&q.highPop, 1)
		return v, true
	case v := <-q.low:
		q.streak = 0
		atomic.AddInt64(&q.lowPop, 1)
		return v, true
	case <-q.closed:
		select {
		case v := <-q.high:
			atomic.AddInt64(&q.highPop, 1)
			return v, true
		default:
			return nil, false
		}
	}
}

// Close rejects further pushes. Pop keeps returning queued high-lane
// values until they are drained.
func (q *PriorityQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *PriorityQueue) Stats() Stats {
	return Stats{
		HighPush: atomic.LoadInt64(&q.highPush),
		LowPush:  atomic.LoadInt64(&q.lowPush),
		HighPop:  atomic.LoadInt64(&q.highPop),
		LowPop:   atomic.LoadInt64(&q.lowPop),
		LowDrop:  atomic.LoadInt64(&q.lowDrop),
	}
}
