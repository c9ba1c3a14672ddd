// Package realtime implements the push channel that keeps client state in
// sync: durable row-insert events fanned out by the store, ephemeral
// broadcasts (typing), and presence tracking, all multiplexed over NATS
// subjects. A Binding owns exactly one logical topic subscription and
// delivers the three event classes to registered handlers independently.
package realtime

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject layout. Row inserts are published per room so a room binding gets
// a server-side filter for free; the global listener subscribes with a
// wildcard and sees every room's inserts on the same subjects.
const (
	subjectRowPrefix      = "rows.messages."
	subjectRowAll         = "rows.messages.*"
	subjectBcastPrefix    = "bcast."
	subjectPresencePrefix = "presence."
)

// Bus wraps the NATS connection with subject helpers and subscription
// bookkeeping so bindings can be torn down without leaking.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
	next int // monotonic suffix to key multiple subs on one subject
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "vortex-chatd",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Connect dials NATS and returns a ready bus. The initial connection must
// succeed; later drops are handled by the client's reconnect loop, and
// sessions re-fetch authoritative history rather than trusting gapless
// delivery across a drop.
func Connect(config Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[realtime] disconnected: %v", err)
			} else {
				log.Printf("[realtime] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[realtime] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[realtime] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	log.Printf("[realtime] connected to %s", nc.ConnectedUrl())

	return &Bus{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishMessageInsert fans a committed message row out to the room's
// insert subject. Satisfies the store's InsertPublisher.
func (b *Bus) PublishMessageInsert(roomID string, row []byte) error {
	return b.conn.Publish(subjectRowPrefix+roomID, row)
}

// publish sends raw data to a subject.
func (b *Bus) publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// subscribe registers a handler for a subject's raw payloads and records
// the subscription under a unique key for later release. It returns the key.
func (b *Bus) subscribe(subject string, handler func(data []byte)) (string, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return "", fmt.Errorf("realtime: subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.next++
	key := fmt.Sprintf("%s#%d", subject, b.next)
	b.subs[key] = sub
	b.mu.Unlock()
	return key, nil
}

// release unsubscribes the subscription recorded under key. Unknown keys are
// a no-op so bindings can be closed idempotently.
func (b *Bus) release(key string) {
	b.mu.Lock()
	sub, ok := b.subs[key]
	delete(b.subs, key)
	b.mu.Unlock()

	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[realtime] unsubscribe %s: %v", key, err)
	}
}

// Close drains all active subscriptions and the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[realtime] drain %s: %v", key, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[realtime] connection drain: %v", err)
	}

	log.Printf("[realtime] bus closed")
}
