// Package room holds the live state of one open room: the ordered message
// list, the typing-user set, and the online-user set, all fed by a single
// realtime binding scoped to the room's topic. A session moves
// closed → loading → active; reopening after teardown is a fresh cycle with
// a fresh history fetch, never a resumption of torn-down state.
package room

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vortex/social-chat/internal/ai"
	"github.com/vortex/social-chat/internal/auth"
	"github.com/vortex/social-chat/internal/content"
	"github.com/vortex/social-chat/internal/metrics"
	"github.com/vortex/social-chat/internal/profile"
	"github.com/vortex/social-chat/internal/realtime"
	"github.com/vortex/social-chat/internal/store"
)

// State is the session lifecycle.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateActive
)

// HistoryPage is how many messages the initial fetch loads.
const HistoryPage = 50

// typingIdle is the producer-side idle window: if the user stops typing for
// this long, the session broadcasts the stop itself. Consumers never expire
// typing entries on their own; they trust the producer's broadcasts.
const typingIdle = 2 * time.Second

// Entry is one message enriched for display: parsed content variant and the
// best-effort resolved author name.
type Entry struct {
	store.Message
	Content    content.Content
	AuthorName string
}

// Hooks are the session's callbacks toward the UI layer. Nil hooks are
// skipped. Callbacks run on event-delivery goroutines and must not block.
type Hooks struct {
	Message  func(Entry)
	Typing   func(users []string)
	Presence func(entries []realtime.PresenceEntry)
}

// Deps bundles the collaborators a session needs.
type Deps struct {
	Store      *store.Store
	Bus        *realtime.Bus
	Auth       *auth.Manager
	Resolver   *profile.Resolver
	Dispatcher *ai.Dispatcher
}

// Session is the stateful object bound to a single open room.
type Session struct {
	roomID string
	deps   Deps
	hooks  Hooks
	self   *auth.Session

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	binding *realtime.Binding
	entries []Entry
	pending []Entry           // inserts that arrived while history was loading
	seen    map[string]bool   // message ids already appended or pending
	typing  map[string]string // user id -> display name
	online  []realtime.PresenceEntry

	typingMu    sync.Mutex
	typingTimer *time.Timer

	closeOnce sync.Once
}

// NewSession creates a closed session for the room.
func NewSession(roomID string, deps Deps, hooks Hooks) *Session {
	return &Session{
		roomID: roomID,
		deps:   deps,
		hooks:  hooks,
		state:  StateClosed,
		seen:   make(map[string]bool),
		typing: make(map[string]string),
	}
}

// Open subscribes to the room's realtime topic and loads its history. The
// subscription is established before the fetch so no insert can fall into
// the gap between them; inserts that land while the fetch is in flight are
// held aside and folded into the page on activation. The session reaches
// StateActive only after both succeed; on any failure the caller may Close
// and retry.
func (s *Session) Open(ctx context.Context) error {
	sess := s.deps.Auth.Current()
	if !sess.Authenticated() {
		return auth.ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("room: session already open")
	}
	s.state = StateLoading
	s.self = sess
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	binding := s.deps.Bus.Bind(realtime.RoomTopic(s.roomID))
	if err := binding.OnRowInserted(s.handleInsert); err != nil {
		binding.Close()
		return err
	}
	if err := binding.OnBroadcast("typing", s.handleTyping); err != nil {
		binding.Close()
		return err
	}
	if err := binding.OnPresenceSync(s.handlePresence); err != nil {
		binding.Close()
		return err
	}
	if err := binding.TrackPresence(sess.UserID, sess.Username); err != nil {
		binding.Close()
		return err
	}

	msgs, err := s.deps.Store.RecentMessages(ctx, s.roomID, HistoryPage)
	if err != nil {
		binding.Close()
		return fmt.Errorf("room: history fetch: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, s.enrich(ctx, m))
	}

	if err := s.activate(entries, binding); err != nil {
		binding.Close()
		return err
	}

	metrics.OpenRooms.Inc()
	log.Printf("[room] %s active with %d messages", s.roomID, len(msgs))
	return nil
}

// activate seeds the fetched history page, folds in inserts buffered during
// the fetch, and flips the session active. Every seeded id is recorded so a
// later realtime delivery of the same row is a no-op; an id present in both
// the page and the buffer stays a single entry.
func (s *Session) activate(history []Entry, binding *realtime.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateLoading || s.ctx.Err() != nil {
		// Closed while we were connecting.
		return fmt.Errorf("room: session closed during open")
	}

	for _, e := range history {
		if s.seen[e.ID] {
			continue // realtime delivery beat the fetch; already buffered
		}
		s.seen[e.ID] = true
		s.insertOrderedLocked(e)
	}
	for _, e := range s.pending {
		s.insertOrderedLocked(e)
	}
	s.pending = nil

	s.binding = binding
	s.state = StateActive
	return nil
}

// enrich parses the content variant and resolves the author display name.
// Resolution is best-effort and bounded; a failure falls back to the
// truncated user id and never blocks the append.
func (s *Session) enrich(ctx context.Context, m store.Message) Entry {
	e := Entry{Message: m, Content: content.Parse(m.Content)}
	if s.self != nil && m.UserID == s.self.UserID {
		e.AuthorName = s.self.Username
		if e.AuthorName == "" {
			e.AuthorName = profile.Fallback(m.UserID)
		}
		return e
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	e.AuthorName = s.deps.Resolver.DisplayName(lookupCtx, m.UserID)
	return e
}

// handleInsert appends a message arriving on the row-insert path. The same
// id delivered twice is a no-op repeat, including an id already seeded from
// the history page; ordering is by (created_at, id) regardless of delivery
// order. While the history fetch is still in flight the entry is buffered
// for the activation merge. Late events after Close are discarded.
func (s *Session) handleInsert(m store.Message) {
	s.mu.Lock()
	if s.state == StateClosed || s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if s.seen[m.ID] {
		s.mu.Unlock()
		metrics.MessagesAppended.WithLabelValues("duplicate").Inc()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	// Resolve outside the lock; profile lookups may hit the network.
	e := s.enrich(ctx, m)

	s.mu.Lock()
	if s.state == StateClosed || s.ctx.Err() != nil || s.seen[m.ID] {
		s.mu.Unlock()
		return
	}
	s.seen[m.ID] = true
	if s.state == StateLoading {
		s.pending = append(s.pending, e)
		s.mu.Unlock()
		return
	}
	s.insertOrderedLocked(e)
	s.mu.Unlock()

	origin := "peer"
	if s.self != nil && m.UserID == s.self.UserID {
		origin = "self"
	}
	metrics.MessagesAppended.WithLabelValues(origin).Inc()

	if s.hooks.Message != nil {
		s.hooks.Message(e)
	}
}

// insertOrderedLocked places e at its (created_at, id) position. Events
// almost always arrive in order, so scan from the tail.
func (s *Session) insertOrderedLocked(e Entry) {
	i := len(s.entries)
	for i > 0 && e.Message.Before(s.entries[i-1].Message) {
		i--
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// handleTyping folds a typing broadcast into the typing set. Self events
// are ignored; the rest add or remove the user per the event's flag.
func (s *Session) handleTyping(ev realtime.BroadcastEvent) {
	if s.self != nil && ev.UserID == s.self.UserID {
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	if ev.IsTyping {
		name := ev.Username
		if name == "" {
			name = profile.Fallback(ev.UserID)
		}
		s.typing[ev.UserID] = name
	} else {
		delete(s.typing, ev.UserID)
	}
	users := s.typingUsersLocked()
	s.mu.Unlock()

	metrics.TypingEvents.WithLabelValues("received").Inc()
	if s.hooks.Typing != nil {
		s.hooks.Typing(users)
	}
}

// handlePresence replaces the online set with the snapshot. Snapshots are
// authoritative; nothing is merged.
func (s *Session) handlePresence(entries []realtime.PresenceEntry) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.online = entries
	s.mu.Unlock()

	metrics.PresenceUsers.WithLabelValues(s.roomID).Set(float64(len(entries)))
	if s.hooks.Presence != nil {
		s.hooks.Presence(entries)
	}
}

// SendMessage validates and persists a message authored by self. The local
// list is not touched here: the sender sees their own message through the
// row-insert echo like every other client. After the user row is in, the
// AI dispatcher gets a look at it; a completion failure is returned so the
// UI can surface it, but the user's own message has already succeeded.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if err := ValidateText(trimmed); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return fmt.Errorf("room: session not active")
	}
	self := s.self
	s.mu.Unlock()

	msg, err := s.deps.Store.InsertMessage(ctx, s.roomID, self.UserID, content.Plain(trimmed).Encode())
	if err != nil {
		return err
	}

	if s.deps.Dispatcher != nil {
		// The completion call outlives a session close once dispatched;
		// there is no user-facing cancellation for it.
		return s.deps.Dispatcher.MaybeDispatch(context.WithoutCancel(ctx), msg)
	}
	return nil
}

// SetTyping broadcasts the typing flag, fire and forget. Starting to type
// arms the idle timer that will broadcast the stop if the user goes quiet;
// an explicit stop disarms it. Consumers rely on the producer to clear the
// flag, so every true must eventually be followed by a false.
func (s *Session) SetTyping(isTyping bool) {
	s.mu.Lock()
	if s.state != StateActive || s.binding == nil {
		s.mu.Unlock()
		return
	}
	binding := s.binding
	self := s.self
	s.mu.Unlock()

	ev := realtime.BroadcastEvent{UserID: self.UserID, Username: self.Username, IsTyping: isTyping}
	if err := binding.Broadcast("typing", ev); err != nil {
		log.Printf("[room] %s: typing broadcast: %v", s.roomID, err)
		return
	}
	metrics.TypingEvents.WithLabelValues("sent").Inc()

	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if isTyping {
		s.typingTimer = time.AfterFunc(typingIdle, func() { s.SetTyping(false) })
	}
}

// Close tears the session down: cancels in-flight work, clears a pending
// typing flag for peers, and releases the binding exactly once. Late
// lookups and fetches observe the cancelled context and discard their
// results.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.typingMu.Lock()
		hadTimer := s.typingTimer != nil
		if hadTimer {
			s.typingTimer.Stop()
			s.typingTimer = nil
		}
		s.typingMu.Unlock()

		s.mu.Lock()
		wasActive := s.state == StateActive
		binding := s.binding
		self := s.self
		s.state = StateClosed
		s.binding = nil
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		if binding != nil {
			if hadTimer && self != nil {
				// Peers would otherwise show us typing forever.
				_ = binding.Broadcast("typing", realtime.BroadcastEvent{
					UserID: self.UserID, Username: self.Username, IsTyping: false,
				})
			}
			binding.Close()
		}
		if wasActive {
			metrics.OpenRooms.Dec()
			metrics.PresenceUsers.DeleteLabelValues(s.roomID)
		}
		log.Printf("[room] %s closed", s.roomID)
	})
}

// RoomID returns the room this session is bound to.
func (s *Session) RoomID() string { return s.roomID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the ordered message list.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// TypingUsers returns the display names currently marked as typing.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingUsersLocked()
}

func (s *Session) typingUsersLocked() []string {
	out := make([]string, 0, len(s.typing))
	for _, name := range s.typing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OnlineUsers returns the last presence snapshot.
func (s *Session) OnlineUsers() []realtime.PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.PresenceEntry, len(s.online))
	copy(out, s.online)
	return out
}
