package runner

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LifecycleRunner drives the engine through start, run, drain and stop.
// Drain is bounded by the configured timeout so a stuck provider stream
// cannot hold shutdown forever.
type LifecycleRunner struct {
	state    stateValue
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
	r.state.set(StateNew)
	return r
}

// Run blocks until the context is cancelled or Stop is called, then
// drains and stops.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.cas(StateNew, StateStarting) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.set(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return r.state.get()
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.state.set(StateDraining)
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.timeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.set(StateStopped)
	})
	return r.stopErr
}
