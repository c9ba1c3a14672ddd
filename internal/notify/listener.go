// Package notify surfaces local notifications for new messages in any room
// the user belongs to, whether or not that room is currently open. One
// global binding covers every room instead of one subscription per
// membership; the membership cache gates relevance, which is why the cache
// stays warm even when no room is open.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vortex/social-chat/internal/auth"
	"github.com/vortex/social-chat/internal/content"
	"github.com/vortex/social-chat/internal/membership"
	"github.com/vortex/social-chat/internal/metrics"
	"github.com/vortex/social-chat/internal/profile"
	"github.com/vortex/social-chat/internal/realtime"
	"github.com/vortex/social-chat/internal/store"
)

// Kind classifies a notification for the UI surface.
type Kind string

const (
	KindChat   Kind = "chat"
	KindDigest Kind = "digest"
)

// Notification is what the local surface displays. The routing fields must
// round-trip through a tap event back into a navigation intent.
type Notification struct {
	Kind      Kind   `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	DigestID  string `json:"digest_id,omitempty"`
}

// Notifier is the local notification surface. Implementations display
// immediately; the listener does not retry.
type Notifier interface {
	Notify(n Notification)
}

// Listener is the background session bound to the all-rooms insert stream.
type Listener struct {
	bus      *realtime.Bus
	cache    *membership.Cache
	auth     *auth.Manager
	resolver *profile.Resolver
	notifier Notifier

	binding   *realtime.Binding
	closeOnce sync.Once
}

// NewListener wires a listener; call Start to begin receiving.
func NewListener(bus *realtime.Bus, cache *membership.Cache, authMgr *auth.Manager,
	resolver *profile.Resolver, notifier Notifier) *Listener {
	return &Listener{
		bus:      bus,
		cache:    cache,
		auth:     authMgr,
		resolver: resolver,
		notifier: notifier,
	}
}

// Start binds the global topic. The listener runs until Close.
func (l *Listener) Start() error {
	binding := l.bus.Bind(realtime.GlobalTopic())
	if err := binding.OnRowInserted(l.handleInsert); err != nil {
		binding.Close()
		return err
	}
	l.binding = binding
	log.Printf("[notify] global listener started")
	return nil
}

// handleInsert filters and classifies one message insert. Drops are silent:
// a membership-cache miss during the join-to-refresh gap loses that
// notification by design, and nothing retries.
func (l *Listener) handleInsert(m store.Message) {
	sess := l.auth.Current()
	if sess.Authenticated() && m.UserID == sess.UserID {
		metrics.NotificationsDropped.WithLabelValues("self").Inc()
		return
	}
	if !l.cache.IsMember(m.RoomID) {
		metrics.NotificationsDropped.WithLabelValues("not_member").Inc()
		return
	}

	n := l.classify(m)
	metrics.NotificationsRaised.WithLabelValues(string(n.Kind)).Inc()
	l.notifier.Notify(n)
}

// classify builds the notification for a message. Digest messages get their
// own kind and routing; everything else is a chat notification titled with
// the author's best-effort display name.
func (l *Listener) classify(m store.Message) Notification {
	c := content.Parse(m.Content)

	if c.Kind == content.KindDigest {
		n := Notification{
			Kind:      KindDigest,
			Title:     "Your digest is ready",
			RoomID:    m.RoomID,
			MessageID: m.ID,
			DigestID:  c.Digest.DigestID,
		}
		if c.Digest.Title != "" {
			n.Title = c.Digest.Title
		}
		n.Body = c.Digest.Summary
		return n
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	author := l.resolver.DisplayName(ctx, m.UserID)

	body := c.Text
	if c.Kind == content.KindBot {
		body = c.Model + ": " + c.Text
	}
	return Notification{
		Kind:      KindChat,
		Title:     author,
		Body:      body,
		RoomID:    m.RoomID,
		MessageID: m.ID,
	}
}

// Close releases the global binding. Idempotent.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		if l.binding != nil {
			l.binding.Close()
		}
		log.Printf("[notify] global listener stopped")
	})
}
