package runner

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run at the edges of the lifecycle: OnStart once the runner is
// up, OnStop after draining finishes.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

type Drainer interface {
	Drain() error
}

// DrainerFunc adapts a function to the Drainer interface.
type DrainerFunc func() error

func (f DrainerFunc) Drain() error { return f() }

type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) get() State   { return State(s.v.Load()) }
func (s *stateValue) set(to State) { s.v.Store(int32(to)) }
func (s *stateValue) cas(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"TRANSFLOW\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
