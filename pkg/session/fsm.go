package session

import (
	"fmt"
	"sync"
	"time"
)

type State string

const (
	StateCreated    State = "created"
	StateConfigured State = "configured"
	StateRecording  State = "recording"
	StateStopped    State = "stopped"
	StateDestroyed  State = "destroyed"
)

// InvalidTransitionError rejects a control event that is not valid in
// the current lifecycle state. The state is left unchanged.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

type StateChange struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
}

type StateListener interface {
	OnStateChange(ev StateChange)
}

var validTransitions = map[State][]State{
	StateCreated:    {StateConfigured, StateDestroyed},
	StateConfigured: {StateConfigured, StateRecording, StateDestroyed},
	StateRecording:  {StateStopped, StateDestroyed},
	StateStopped:    {StateConfigured, StateRecording, StateDestroyed},
	StateDestroyed:  {},
}

type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateCreated}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *stateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *stateMachine) Transition(to State, reason string) error {
	m.mu.Lock()
	if !transitionValid(m.current, to) {
		err := &InvalidTransitionError{From: m.current, To: to}
		m.mu.Unlock()
		return err
	}
	ev := StateChange{From: m.current, To: to, Timestamp: time.Now(), Reason: reason}
	m.current = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(ev)
	}
	return nil
}
