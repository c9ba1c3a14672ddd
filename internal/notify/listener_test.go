package notify

import (
	"testing"
	"time"

	"github.com/vortex/social-chat/internal/auth"
	"github.com/vortex/social-chat/internal/content"
	"github.com/vortex/social-chat/internal/membership"
	"github.com/vortex/social-chat/internal/store"
)

type fakeNotifier struct {
	got []Notification
}

func (f *fakeNotifier) Notify(n Notification) {
	f.got = append(f.got, n)
}

func testListener(sess *auth.Session) (*Listener, *fakeNotifier) {
	authMgr := auth.NewManager(sess)
	cache := membership.NewCache(nil, authMgr)
	notifier := &fakeNotifier{}
	return NewListener(nil, cache, authMgr, nil, notifier), notifier
}

func TestHandleInsertDropsOwnMessages(t *testing.T) {
	l, notifier := testListener(&auth.Session{UserID: "u-1", Username: "me"})

	l.handleInsert(store.Message{
		ID:      "m-1",
		RoomID:  "r-1",
		UserID:  "u-1",
		Content: "hello",
	})

	if len(notifier.got) != 0 {
		t.Errorf("expected no notification for own message, got %d", len(notifier.got))
	}
}

func TestHandleInsertDropsNonMemberRooms(t *testing.T) {
	// Empty membership cache: every room is a non-member room.
	l, notifier := testListener(&auth.Session{UserID: "u-1", Username: "me"})

	l.handleInsert(store.Message{
		ID:      "m-1",
		RoomID:  "r-unknown",
		UserID:  "u-2",
		Content: "hello",
	})

	if len(notifier.got) != 0 {
		t.Errorf("expected no notification for non-member room, got %d", len(notifier.got))
	}
}

func TestClassifyDigest(t *testing.T) {
	l, _ := testListener(&auth.Session{UserID: "u-1"})

	body := content.Digest(content.DigestPayload{
		DigestID: "d-7",
		Title:    "Morning briefing",
		Summary:  "Three stories you missed",
	}).Encode()

	n := l.classify(store.Message{
		ID:        "m-1",
		RoomID:    "r-1",
		UserID:    "u-sys",
		Content:   body,
		CreatedAt: time.Now(),
	})

	if n.Kind != KindDigest {
		t.Fatalf("kind = %v, want KindDigest", n.Kind)
	}
	if n.Title != "Morning briefing" || n.Body != "Three stories you missed" {
		t.Errorf("unexpected title/body: %q / %q", n.Title, n.Body)
	}
	if n.DigestID != "d-7" || n.RoomID != "r-1" || n.MessageID != "m-1" {
		t.Errorf("routing fields wrong: %+v", n)
	}
}

func TestClassifyDigestTitleFallback(t *testing.T) {
	l, _ := testListener(&auth.Session{UserID: "u-1"})

	body := content.Digest(content.DigestPayload{DigestID: "d-8"}).Encode()
	n := l.classify(store.Message{ID: "m-1", RoomID: "r-1", UserID: "u-sys", Content: body})

	if n.Title != "Your digest is ready" {
		t.Errorf("title = %q, want fallback", n.Title)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l, _ := testListener(&auth.Session{UserID: "u-1"})
	l.Close()
	l.Close()
}
