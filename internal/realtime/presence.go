package realtime

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"
)

// Presence timing. A tracked client announces itself on join and then every
// heartbeatEvery; consumers expire an entry after presenceTTL without a
// heartbeat, which is how transport-level disconnects become visible (the
// snapshot shrinks, eventually to empty).
const (
	heartbeatEvery = 5 * time.Second
	presenceTTL    = 15 * time.Second
	sweepEvery     = 5 * time.Second
)

// Presence announcement kinds.
const (
	presenceJoin      = "join"
	presenceHeartbeat = "heartbeat"
	presenceLeave     = "leave"
)

// PresenceEntry is one connected user in a topic's presence snapshot.
type PresenceEntry struct {
	UserID   string
	Username string
	Seen     time.Time
}

type presenceMsg struct {
	Kind     string `json:"kind"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TrackPresence announces this client under the binding's topic and keeps
// the announcement alive with heartbeats until the binding is closed.
func (bd *Binding) TrackPresence(userID, username string) error {
	bd.mu.Lock()
	if bd.closed {
		bd.mu.Unlock()
		return nil
	}
	if bd.presence != nil {
		bd.mu.Unlock()
		return nil // already tracking
	}
	tracker := &presenceTracker{
		binding: bd,
		self:    presenceMsg{UserID: userID, Username: username},
		done:    make(chan struct{}),
	}
	bd.presence = tracker
	bd.mu.Unlock()

	if err := tracker.announce(presenceJoin); err != nil {
		return err
	}
	go tracker.loop()
	return nil
}

// OnPresenceSync registers a handler that receives the full presence
// snapshot whenever it changes. Each snapshot replaces all prior state;
// consumers must not merge snapshots.
func (bd *Binding) OnPresenceSync(handler func([]PresenceEntry)) error {
	agg := &presenceAggregator{
		entries: make(map[string]PresenceEntry),
		handler: handler,
		done:    make(chan struct{}),
	}

	key, err := bd.bus.subscribe(bd.presenceSubject(), agg.consume)
	if err != nil {
		return err
	}
	bd.track(key)
	bd.addStopper(agg.stop)

	go agg.sweep()
	return nil
}

func (bd *Binding) presenceSubject() string {
	return subjectPresencePrefix + bd.topic.roomID
}

// presenceTracker is the producer side: join, heartbeats, leave.
type presenceTracker struct {
	binding *Binding
	self    presenceMsg
	done    chan struct{}
	once    sync.Once
}

func (t *presenceTracker) announce(kind string) error {
	msg := t.self
	msg.Kind = kind
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.binding.bus.publish(t.binding.presenceSubject(), data)
}

func (t *presenceTracker) loop() {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.announce(presenceHeartbeat); err != nil {
				log.Printf("[realtime] %s: presence heartbeat: %v", t.binding.topic, err)
			}
		}
	}
}

// stop ends the heartbeat loop and broadcasts a leave so peers drop the
// entry immediately instead of waiting out the TTL.
func (t *presenceTracker) stop() {
	t.once.Do(func() {
		close(t.done)
		if err := t.announce(presenceLeave); err != nil {
			log.Printf("[realtime] %s: presence leave: %v", t.binding.topic, err)
		}
	})
}

// presenceAggregator is the consumer side: it folds announcements into a
// snapshot and hands out whole-snapshot copies on every change.
type presenceAggregator struct {
	mu      sync.Mutex
	entries map[string]PresenceEntry
	handler func([]PresenceEntry)
	done    chan struct{}
	once    sync.Once
}

func (a *presenceAggregator) consume(data []byte) {
	var msg presenceMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[realtime] bad presence payload: %v", err)
		return
	}
	if msg.UserID == "" {
		return
	}

	a.mu.Lock()
	switch msg.Kind {
	case presenceLeave:
		if _, ok := a.entries[msg.UserID]; !ok {
			a.mu.Unlock()
			return
		}
		delete(a.entries, msg.UserID)
	default: // join and heartbeat both refresh the entry
		a.entries[msg.UserID] = PresenceEntry{
			UserID:   msg.UserID,
			Username: msg.Username,
			Seen:     time.Now(),
		}
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.handler(snapshot)
}

// sweep expires entries whose heartbeats stopped without a leave.
func (a *presenceAggregator) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-presenceTTL)

			a.mu.Lock()
			changed := false
			for id, e := range a.entries {
				if e.Seen.Before(cutoff) {
					delete(a.entries, id)
					changed = true
				}
			}
			var snapshot []PresenceEntry
			if changed {
				snapshot = a.snapshotLocked()
			}
			a.mu.Unlock()

			if changed {
				a.handler(snapshot)
			}
		}
	}
}

// snapshotLocked copies the entries into a stable-ordered slice. Caller
// holds the mutex.
func (a *presenceAggregator) snapshotLocked() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (a *presenceAggregator) stop() {
	a.once.Do(func() { close(a.done) })
}
