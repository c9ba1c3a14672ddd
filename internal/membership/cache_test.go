package membership

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vortex/social-chat/internal/auth"
	"github.com/vortex/social-chat/internal/store"
)

func TestNewInviteTokenShape(t *testing.T) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := newInviteToken()
		if len(token) != tokenLen {
			t.Fatalf("token %q has length %d, want %d", token, len(token), tokenLen)
		}
		for _, r := range token {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("token %q contains %q outside the alphabet", token, r)
			}
		}
		seen[token] = true
	}
	if len(seen) < 90 {
		t.Errorf("expected near-unique tokens, got %d distinct of 100", len(seen))
	}
}

func TestJoinByTokenEmptyFailsFast(t *testing.T) {
	// nil store: any network call would panic, proving the fast-fail.
	c := NewCache(nil, auth.NewManager(&auth.Session{UserID: "u-1"}))

	for _, token := range []string{"", "   ", "\t"} {
		if _, err := c.JoinByToken(context.Background(), token); !errors.Is(err, ErrEmptyToken) {
			t.Errorf("JoinByToken(%q) = %v, want ErrEmptyToken", token, err)
		}
	}
}

func TestJoinByTokenRequiresAuth(t *testing.T) {
	c := NewCache(nil, auth.NewManager(auth.GuestSession()))

	if _, err := c.JoinByToken(context.Background(), "abc123xy"); !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	c := NewCache(nil, auth.NewManager(auth.GuestSession()))

	if _, err := c.CreateRoom(context.Background(), "gophers", true); !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSnapshotReplaceIsWholesale(t *testing.T) {
	c := NewCache(nil, auth.NewManager(&auth.Session{UserID: "u-1"}))

	c.replace(snapshot{
		rooms: []store.Room{{ID: "r-1", Name: "one"}, {ID: "r-2", Name: "two"}},
		roles: map[string]string{"r-1": store.RoleAdmin, "r-2": store.RoleMember},
	})

	if !c.IsMember("r-1") || !c.IsMember("r-2") {
		t.Fatal("expected membership in r-1 and r-2")
	}
	if role, _ := c.Role("r-1"); role != store.RoleAdmin {
		t.Errorf("role = %q, want admin", role)
	}

	// The next snapshot replaces the previous one entirely.
	c.replace(snapshot{
		rooms: []store.Room{{ID: "r-3", Name: "three"}},
		roles: map[string]string{"r-3": store.RoleMember},
	})

	if c.IsMember("r-1") || c.IsMember("r-2") {
		t.Error("stale rooms survived a replace")
	}
	if !c.IsMember("r-3") {
		t.Error("expected membership in r-3")
	}
	if rooms := c.Rooms(); len(rooms) != 1 || rooms[0].ID != "r-3" {
		t.Errorf("rooms = %v, want only r-3", rooms)
	}
}

func TestRefreshClearsForGuest(t *testing.T) {
	mgr := auth.NewManager(&auth.Session{UserID: "u-1"})
	c := NewCache(nil, mgr)
	c.replace(snapshot{
		rooms: []store.Room{{ID: "r-1"}},
		roles: map[string]string{"r-1": store.RoleMember},
	})

	mgr.SignOut()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("guest refresh should not error: %v", err)
	}
	if c.IsMember("r-1") {
		t.Error("guest cache should be empty")
	}
}
