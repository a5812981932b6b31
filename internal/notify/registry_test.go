package notify

import (
	"testing"
	"time"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	sub := r.Subscribe("agent-a", "session_00aa11bb22cc33dd")
	wildcard := r.Subscribe("agent-b", "*")
	r.Subscribe("agent-c", "session_ffffffffffffffff")

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}

	matches := r.Subscribers("session_00aa11bb22cc33dd")
	if len(matches) != 2 {
		t.Fatalf("subscribers = %d, want 2 (exact + wildcard)", len(matches))
	}

	r.Unsubscribe(sub.ID)
	r.Unsubscribe("never-existed")
	if r.Len() != 2 {
		t.Errorf("Len after unsubscribe = %d, want 2", r.Len())
	}

	if !r.Touch(wildcard.ID) {
		t.Error("touch of live subscription reported missing")
	}
	if r.Touch(sub.ID) {
		t.Error("touch of removed subscription reported alive")
	}
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry()

	stale := r.Subscribe("agent-a", "*")
	fresh := r.Subscribe("agent-b", "*")

	// Backdate one subscription past the idle window.
	r.mu.Lock()
	r.subs[stale.ID].LastSeen = time.Now().UTC().Add(-2 * time.Hour)
	r.mu.Unlock()

	removed := r.Sweep(time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if !r.Touch(fresh.ID) {
		t.Error("fresh subscription swept")
	}
	if r.Touch(stale.ID) {
		t.Error("stale subscription survived")
	}

	if r.Sweep(0) != 0 {
		t.Error("zero idle window should disable the sweep")
	}
}
