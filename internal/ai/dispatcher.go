package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/vortex/social-chat/internal/content"
	"github.com/vortex/social-chat/internal/metrics"
	"github.com/vortex/social-chat/internal/ratelimit"
	"github.com/vortex/social-chat/internal/store"
)

// ErrRateLimited is returned when the user has exhausted their completion
// budget for the window.
var ErrRateLimited = errors.New("ai: completion rate limited")

// Trigger maps an addressing prefix to the model it invokes.
type Trigger struct {
	Prefix string
	Model  string
}

// Triggers is the fixed addressing set, longest prefix first so "@vortex"
// does not shadow its variants.
var Triggers = []Trigger{
	{Prefix: "@vortex-flash", Model: "vortex-flash"},
	{Prefix: "@vortex-code", Model: "vortex-code"},
	{Prefix: "@vortex", Model: "vortex-base"},
}

// Match checks text for an addressing prefix. It returns the target model
// and the trimmed query. ok is false when no trigger matches or when the
// trigger carries no query: the trigger alone is not a valid invocation.
func Match(text string) (model, query string, ok bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, t := range Triggers {
		if !strings.HasPrefix(lower, t.Prefix) {
			continue
		}
		rest := trimmed[len(t.Prefix):]
		// The prefix must be a whole word: end of text or whitespace next.
		if rest != "" && !strings.ContainsRune(" \t\n", rune(rest[0])) {
			continue
		}
		query = strings.TrimSpace(rest)
		if query == "" {
			return "", "", false
		}
		return t.Model, query, true
	}
	return "", "", false
}

// Publisher persists the bot's answer. Satisfied by the store; the insert
// fans out through the realtime bus like any other message.
type Publisher interface {
	InsertMessage(ctx context.Context, roomID, userID, body string) (store.Message, error)
}

// Dispatcher inspects outgoing user messages and, on an addressing match,
// follows the user's message with a second message carrying the completion
// result. The bot has no identity of its own: the response is authored by
// the triggering user and attributed via the content prefix.
type Dispatcher struct {
	client  *Client
	pub     Publisher
	limiter *ratelimit.Limiter
}

// NewDispatcher creates a dispatcher. The limiter may be nil to disable
// throttling.
func NewDispatcher(client *Client, pub Publisher, limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{client: client, pub: pub, limiter: limiter}
}

// MaybeDispatch examines a just-sent message and invokes the completion
// service if it addresses a bot. Each trigger is a fresh completion call
// with no cross-message history. On success the answer is published; on
// failure nothing is persisted and the error is returned for the UI to
// surface. A non-match returns nil immediately.
func (d *Dispatcher) MaybeDispatch(ctx context.Context, msg store.Message) error {
	parsed := content.Parse(msg.Content)
	if parsed.Kind != content.KindPlain {
		return nil // digests and bot responses never trigger
	}

	model, query, ok := Match(parsed.Text)
	if !ok {
		return nil
	}

	if d.limiter != nil {
		allowed, _ := d.limiter.Allow(ctx, msg.UserID, ratelimit.RuleCompletion)
		if !allowed {
			metrics.CompletionCalls.WithLabelValues("rate_limited").Inc()
			return ErrRateLimited
		}
	}

	start := time.Now()
	answer, err := d.client.Complete(ctx, model, query, nil)
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionCalls.WithLabelValues(completionResult(err)).Inc()
		return err
	}
	metrics.CompletionCalls.WithLabelValues("ok").Inc()

	body := content.Bot(model, answer).Encode()
	if _, err := d.pub.InsertMessage(ctx, msg.RoomID, msg.UserID, body); err != nil {
		return err
	}

	log.Printf("[ai] dispatched model=%s room=%s query_len=%d", model, msg.RoomID, len(query))
	return nil
}

func completionResult(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrService):
		return "service_error"
	default:
		return "network_error"
	}
}
