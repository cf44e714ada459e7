package session

import (
	"errors"
	"testing"
)

func TestValidLifecyclePath(t *testing.T) {
	m := newStateMachine()
	steps := []State{StateConfigured, StateRecording, StateStopped, StateRecording, StateStopped, StateDestroyed}
	for _, to := range steps {
		if err := m.Transition(to, "test"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if m.State() != StateDestroyed {
		t.Fatalf("final state %s", m.State())
	}
}

func TestInvalidTransitionsRejectedAndStateUnchanged(t *testing.T) {
	cases := []struct {
		from State
		to   State
	}{
		{StateCreated, StateRecording},
		{StateCreated, StateStopped},
		{StateRecording, StateConfigured},
		{StateDestroyed, StateRecording},
		{StateDestroyed, StateConfigured},
	}
	for _, c := range cases {
		m := newStateMachine()
		m.current = c.from
		err := m.Transition(c.to, "test")
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("%s -> %s: expected InvalidTransitionError, got %v", c.from, c.to, err)
		}
		if m.State() != c.from {
			t.Fatalf("%s -> %s: state changed to %s on rejection", c.from, c.to, m.State())
		}
	}
}

type listenerRecorder struct {
	events []StateChange
}

func (l *listenerRecorder) OnStateChange(ev StateChange) {
	l.events = append(l.events, ev)
}

func TestListenersObserveTransitions(t *testing.T) {
	m := newStateMachine()
	rec := &listenerRecorder{}
	m.AddListener(rec)
	if err := m.Transition(StateConfigured, "languages set"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.From != StateCreated || ev.To != StateConfigured || ev.Reason != "languages set" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
