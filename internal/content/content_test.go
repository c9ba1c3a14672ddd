package content

import (
	"strings"
	"testing"
)

func TestParsePlain(t *testing.T) {
	c := Parse("hello there")
	if c.Kind != KindPlain {
		t.Fatalf("expected KindPlain, got %v", c.Kind)
	}
	if c.Text != "hello there" {
		t.Errorf("unexpected text: %q", c.Text)
	}
}

func TestParseBot(t *testing.T) {
	c := Parse("[bot:vortex-flash] here is your answer")
	if c.Kind != KindBot {
		t.Fatalf("expected KindBot, got %v", c.Kind)
	}
	if c.Model != "vortex-flash" {
		t.Errorf("expected model vortex-flash, got %q", c.Model)
	}
	if c.Text != "here is your answer" {
		t.Errorf("unexpected text: %q", c.Text)
	}
}

func TestParseDigest(t *testing.T) {
	raw := DigestPrefix + `{"digest_id":"d-42","title":"Morning brief","summary":"3 stories"}`
	c := Parse(raw)
	if c.Kind != KindDigest {
		t.Fatalf("expected KindDigest, got %v", c.Kind)
	}
	if c.Digest.DigestID != "d-42" || c.Digest.Title != "Morning brief" {
		t.Errorf("unexpected payload: %+v", c.Digest)
	}
}

func TestParseCorruptDigestDegradesToPlain(t *testing.T) {
	cases := []string{
		DigestPrefix + "not json at all",
		DigestPrefix + `{"title":"missing id"}`,
		DigestPrefix,
	}
	for _, raw := range cases {
		c := Parse(raw)
		if c.Kind != KindPlain {
			t.Errorf("Parse(%q): expected KindPlain, got %v", raw, c.Kind)
		}
		if c.Text != raw {
			t.Errorf("Parse(%q): raw text not preserved: %q", raw, c.Text)
		}
	}
}

func TestParseBogusBotMarkerDegradesToPlain(t *testing.T) {
	cases := []string{
		"[bot:] empty model",
		"[bot:Weird Stuff!] spaces and caps",
		"[bot:unterminated",
	}
	for _, raw := range cases {
		c := Parse(raw)
		if c.Kind != KindPlain {
			t.Errorf("Parse(%q): expected KindPlain, got %v", raw, c.Kind)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []Content{
		Plain("just a message"),
		Bot("vortex-code", "for i := 0; i < n; i++ {}"),
		Digest(DigestPayload{DigestID: "d-1", Title: "t", Summary: "s", Topics: []string{"go"}}),
	}
	for _, c := range cases {
		got := Parse(c.Encode())
		if got.Kind != c.Kind {
			t.Fatalf("round trip changed kind: %v -> %v", c.Kind, got.Kind)
		}
		switch c.Kind {
		case KindDigest:
			if got.Digest.DigestID != c.Digest.DigestID {
				t.Errorf("digest id lost: %+v", got.Digest)
			}
		case KindBot:
			if got.Model != c.Model || got.Text != c.Text {
				t.Errorf("bot round trip mismatch: %+v", got)
			}
		default:
			if got.Text != c.Text {
				t.Errorf("plain round trip mismatch: %q", got.Text)
			}
		}
	}
}

func TestEncodeDigestHasStablePrefix(t *testing.T) {
	enc := Digest(DigestPayload{DigestID: "d-9", Title: "x", Summary: "y"}).Encode()
	if !strings.HasPrefix(enc, DigestPrefix) {
		t.Fatalf("encoded digest missing sentinel prefix: %q", enc)
	}
}
