package main

import (
	"testing"

	"github.com/vortex/social-chat/internal/room"
)

func newSession(roomID string) *room.Session {
	return room.NewSession(roomID, room.Deps{}, room.Hooks{})
}

func TestRegistryDropDetachesAllSessionsForConn(t *testing.T) {
	r := newSessionRegistry()
	s1 := newSession("r-1")
	s2 := newSession("r-2")
	r.put("c-1", "r-1", s1)
	r.put("c-1", "r-2", s2)
	r.put("c-2", "r-1", newSession("r-1"))

	dropped := r.drop("c-1")
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped sessions, got %d", len(dropped))
	}
	if r.get("c-1", "r-1") != nil || r.get("c-1", "r-2") != nil {
		t.Error("dropped sessions still registered")
	}
	if r.get("c-2", "r-1") == nil {
		t.Error("drop removed another connection's session")
	}
}

func TestRegistryRemoveDetachesSingleSession(t *testing.T) {
	r := newSessionRegistry()
	s := newSession("r-1")
	r.put("c-1", "r-1", s)

	if got := r.remove("c-1", "r-1"); got != s {
		t.Fatalf("remove returned %v, want the registered session", got)
	}
	if r.get("c-1", "r-1") != nil {
		t.Error("session still registered after remove")
	}
	if got := r.remove("c-1", "r-1"); got != nil {
		t.Errorf("second remove returned %v, want nil", got)
	}
}

// A disconnect can land before the open-room goroutine registers its
// session. The handler registers first and then re-checks the connection,
// so the session it put for the dead connection must still be there for the
// re-check to claim and close.
func TestRegistryRegistrationAfterDisconnectIsClaimable(t *testing.T) {
	r := newSessionRegistry()
	s := newSession("r-1")

	if dropped := r.drop("c-1"); len(dropped) != 0 {
		t.Fatalf("expected empty drop, got %d sessions", len(dropped))
	}
	r.put("c-1", "r-1", s)

	orphan := r.remove("c-1", "r-1")
	if orphan != s {
		t.Fatalf("expected the orphaned session back, got %v", orphan)
	}
	orphan.Close()

	if len(r.open) != 0 {
		t.Errorf("registry not empty after claiming the orphan: %d conns", len(r.open))
	}
}
