package session

import "testing"

func TestOutOfOrderCompletionEmitsInRegistrationOrder(t *testing.T) {
	r := newResequencer()
	a := r.Register()
	b := r.Register()

	if got := r.Complete(b, "B"); len(got) != 0 {
		t.Fatalf("B completed first must be held back, got %v", got)
	}
	got := r.Complete(a, "A")
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("expected [A B], got %v", got)
	}
}

func TestAbandonUnblocksSuccessors(t *testing.T) {
	r := newResequencer()
	a := r.Register()
	b := r.Register()
	c := r.Register()

	r.Complete(b, "B")
	r.Complete(c, "C")
	got := r.Abandon(a)
	if len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Fatalf("abandoned head should release the rest, got %v", got)
	}
}

func TestInOrderCompletionEmitsImmediately(t *testing.T) {
	r := newResequencer()
	a := r.Register()
	if got := r.Complete(a, "A"); len(got) != 1 || got[0] != "A" {
		t.Fatalf("got %v", got)
	}
	b := r.Register()
	if got := r.Complete(b, "B"); len(got) != 1 || got[0] != "B" {
		t.Fatalf("got %v", got)
	}
}

func TestResetDropsPending(t *testing.T) {
	r := newResequencer()
	a := r.Register()
	r.Register()
	r.Reset()
	if got := r.Complete(a, "stale"); len(got) != 0 {
		t.Fatalf("stale slot emitted after reset: %v", got)
	}
	fresh := r.Register()
	if got := r.Complete(fresh, "fresh"); len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("fresh slot blocked after reset: %v", got)
	}
}
