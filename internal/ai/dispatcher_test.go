package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vortex/social-chat/internal/content"
	"github.com/vortex/social-chat/internal/store"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		wantModel string
		wantQuery string
		wantOK    bool
	}{
		{"base trigger", "@vortex what is Go?", "vortex-base", "what is Go?", true},
		{"flash trigger", "@vortex-flash quick one", "vortex-flash", "quick one", true},
		{"code trigger", "@vortex-code write a loop", "vortex-code", "write a loop", true},
		{"case insensitive", "@Vortex what is Go?", "vortex-base", "what is Go?", true},
		{"leading whitespace", "  @vortex hello", "vortex-base", "hello", true},
		{"trigger alone", "@vortex", "", "", false},
		{"trigger alone with spaces", "@vortex   ", "", "", false},
		{"variant alone", "@vortex-flash", "", "", false},
		{"mid-message mention", "hey @vortex what's up", "", "", false},
		{"no word boundary", "@vortexes are cool", "", "", false},
		{"plain text", "just a message", "", "", false},
		{"longest prefix wins", "@vortex-flash-ish thing", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model, query, ok := Match(tc.text)
			if ok != tc.wantOK || model != tc.wantModel || query != tc.wantQuery {
				t.Errorf("Match(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tc.text, model, query, ok, tc.wantModel, tc.wantQuery, tc.wantOK)
			}
		})
	}
}

// fakePublisher records inserted messages.
type fakePublisher struct {
	inserted []store.Message
	err      error
}

func (p *fakePublisher) InsertMessage(ctx context.Context, roomID, userID, body string) (store.Message, error) {
	if p.err != nil {
		return store.Message{}, p.err
	}
	m := store.Message{ID: "m-bot", RoomID: roomID, UserID: userID, Content: body}
	p.inserted = append(p.inserted, m)
	return m, nil
}

func completionServer(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": answer})
	}))
}

func userMsg(text string) store.Message {
	return store.Message{
		ID:      "m-1",
		RoomID:  "r-1",
		UserID:  "u-1",
		Content: content.Plain(text).Encode(),
	}
}

func TestMaybeDispatchPublishesBotResponse(t *testing.T) {
	srv := completionServer(t, "the answer")
	defer srv.Close()

	pub := &fakePublisher{}
	d := NewDispatcher(NewClient(Config{BaseURL: srv.URL}), pub, nil)

	if err := d.MaybeDispatch(context.Background(), userMsg("@vortex-flash quick one")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(pub.inserted))
	}
	got := pub.inserted[0]
	if got.RoomID != "r-1" || got.UserID != "u-1" {
		t.Errorf("bot response attributed to %s/%s, want r-1/u-1", got.RoomID, got.UserID)
	}

	parsed := content.Parse(got.Content)
	if parsed.Kind != content.KindBot {
		t.Fatalf("expected bot content, got kind %v", parsed.Kind)
	}
	if parsed.Model != "vortex-flash" || parsed.Text != "the answer" {
		t.Errorf("bot content = (%q, %q)", parsed.Model, parsed.Text)
	}
}

func TestMaybeDispatchIgnoresNonTriggers(t *testing.T) {
	pub := &fakePublisher{}
	// No server: any HTTP call would fail loudly.
	d := NewDispatcher(NewClient(Config{BaseURL: "http://127.0.0.1:0"}), pub, nil)

	for _, text := range []string{"plain message", "@vortex", "hey @vortex hi"} {
		if err := d.MaybeDispatch(context.Background(), userMsg(text)); err != nil {
			t.Errorf("MaybeDispatch(%q) = %v, want nil", text, err)
		}
	}
	if len(pub.inserted) != 0 {
		t.Errorf("expected no inserts, got %d", len(pub.inserted))
	}
}

func TestMaybeDispatchIgnoresBotAndDigestContent(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(NewClient(Config{BaseURL: "http://127.0.0.1:0"}), pub, nil)

	botBody := content.Bot("vortex-base", "@vortex recurse").Encode()
	if err := d.MaybeDispatch(context.Background(), store.Message{RoomID: "r-1", UserID: "u-1", Content: botBody}); err != nil {
		t.Errorf("bot content dispatched: %v", err)
	}
	if len(pub.inserted) != 0 {
		t.Errorf("expected no inserts, got %d", len(pub.inserted))
	}
}

func TestMaybeDispatchServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pub := &fakePublisher{}
	d := NewDispatcher(NewClient(Config{BaseURL: srv.URL}), pub, nil)

	err := d.MaybeDispatch(context.Background(), userMsg("@vortex hello"))
	if !errors.Is(err, ErrService) {
		t.Errorf("expected ErrService, got %v", err)
	}
	if len(pub.inserted) != 0 {
		t.Errorf("nothing should be persisted on failure, got %d inserts", len(pub.inserted))
	}
}

func TestCompleteServiceLevelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "nope", "q", nil)
	if !errors.Is(err, ErrService) {
		t.Errorf("expected ErrService, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error should carry the service message, got %v", err)
	}
}
