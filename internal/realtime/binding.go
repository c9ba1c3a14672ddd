package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/vortex/social-chat/internal/store"
)

// Topic names one logical subscription scope: a single room, or the global
// all-rooms insert stream.
type Topic struct {
	roomID string // empty for the global scope
}

// RoomTopic scopes a binding to one room's events.
func RoomTopic(roomID string) Topic { return Topic{roomID: roomID} }

// GlobalTopic scopes a binding to every room's row-insert events. Broadcast
// and presence are room-scoped concerns and are not available on it.
func GlobalTopic() Topic { return Topic{} }

// IsGlobal reports whether the topic is the all-rooms scope.
func (t Topic) IsGlobal() bool { return t.roomID == "" }

// String returns a stable name for logging.
func (t Topic) String() string {
	if t.IsGlobal() {
		return "global"
	}
	return "room:" + t.roomID
}

// Binding owns one topic's subscriptions. Handlers for the three event
// classes are registered independently and never cross-contaminate; Close
// releases everything exactly once regardless of how often it is called.
type Binding struct {
	bus   *Bus
	topic Topic

	mu       sync.Mutex
	subKeys  []string
	stoppers []func()
	presence *presenceTracker
	closed   bool
	once     sync.Once
}

// Bind creates a binding for the topic. No subscription is established
// until a handler is registered.
func (b *Bus) Bind(topic Topic) *Binding {
	return &Binding{bus: b, topic: topic}
}

// OnRowInserted subscribes to message-insert events in the binding's scope.
// Delivery is at-least-once per connected session; events during a
// reconnect gap are not replayed, so owners re-fetch history instead of
// trusting gapless delivery. Rows that fail to decode are dropped with a
// log line.
func (bd *Binding) OnRowInserted(handler func(store.Message)) error {
	subject := subjectRowAll
	if !bd.topic.IsGlobal() {
		subject = subjectRowPrefix + bd.topic.roomID
	}

	key, err := bd.bus.subscribe(subject, func(data []byte) {
		var row store.Message
		if err := json.Unmarshal(data, &row); err != nil {
			log.Printf("[realtime] %s: bad insert payload: %v", bd.topic, err)
			return
		}
		handler(row)
	})
	if err != nil {
		return err
	}
	bd.track(key)
	return nil
}

// BroadcastEvent is the ephemeral payload for OnBroadcast/Broadcast. Only
// typing uses it today; the event name keeps the channel open for more.
type BroadcastEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

// OnBroadcast subscribes to ephemeral client-to-client events under the
// binding's room. Best effort: no delivery or cross-producer ordering
// guarantee.
func (bd *Binding) OnBroadcast(event string, handler func(BroadcastEvent)) error {
	key, err := bd.bus.subscribe(bd.broadcastSubject(event), func(data []byte) {
		var ev BroadcastEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[realtime] %s: bad broadcast payload: %v", bd.topic, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return err
	}
	bd.track(key)
	return nil
}

// Broadcast publishes an ephemeral event to every binding on the same room
// topic, including this one. Fire and forget.
func (bd *Binding) Broadcast(event string, ev BroadcastEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return bd.bus.publish(bd.broadcastSubject(event), data)
}

func (bd *Binding) broadcastSubject(event string) string {
	return subjectBcastPrefix + bd.topic.roomID + "." + event
}

// track records a subscription key for release on Close. If the binding was
// already closed the subscription is released immediately.
func (bd *Binding) track(key string) {
	bd.mu.Lock()
	if bd.closed {
		bd.mu.Unlock()
		bd.bus.release(key)
		return
	}
	bd.subKeys = append(bd.subKeys, key)
	bd.mu.Unlock()
}

// addStopper records a teardown function to run on Close. Runs it
// immediately if the binding was already closed.
func (bd *Binding) addStopper(stop func()) {
	bd.mu.Lock()
	if bd.closed {
		bd.mu.Unlock()
		stop()
		return
	}
	bd.stoppers = append(bd.stoppers, stop)
	bd.mu.Unlock()
}

// Close releases the binding's subscriptions and stops presence tracking.
// Safe to call more than once or without any prior registration.
func (bd *Binding) Close() {
	bd.once.Do(func() {
		bd.mu.Lock()
		bd.closed = true
		keys := bd.subKeys
		bd.subKeys = nil
		stoppers := bd.stoppers
		bd.stoppers = nil
		tracker := bd.presence
		bd.presence = nil
		bd.mu.Unlock()

		if tracker != nil {
			tracker.stop()
		}
		for _, stop := range stoppers {
			stop()
		}
		for _, key := range keys {
			bd.bus.release(key)
		}
	})
}
