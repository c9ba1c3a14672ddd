// Package content models the three message-content shapes that share the
// single text column in the messages table: plain chat text, generated news
// digests, and AI bot responses. Persisted messages carry a sentinel prefix
// that discriminates the shape; this package parses the prefix into a typed
// variant on read and serializes back to the same wire form on write, so the
// rest of the codebase never sniffs raw prefixes.
package content

import (
	"encoding/json"
	"strings"
)

// Sentinel prefixes. These are part of the persisted wire format and must
// stay stable across client versions reading each other's messages.
const (
	DigestPrefix   = "[digest] "
	botPrefixOpen  = "[bot:"
	botPrefixClose = "] "
)

// Kind discriminates the parsed content variants.
type Kind int

const (
	KindPlain Kind = iota
	KindDigest
	KindBot
)

// Content is the parsed form of a message's text column.
type Content struct {
	Kind Kind

	// Text holds the chat text for KindPlain and the response body for
	// KindBot. Unset for KindDigest.
	Text string

	// Digest holds the decoded payload for KindDigest.
	Digest *DigestPayload

	// Model is the bot model identifier for KindBot (e.g. "vortex-flash").
	Model string
}

// DigestPayload is the JSON body of a digest message describing a generated
// news summary.
type DigestPayload struct {
	DigestID  string   `json:"digest_id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics,omitempty"`
	CreatedAt int64    `json:"created_at,omitempty"`
}

// Plain builds a plain-text variant.
func Plain(text string) Content {
	return Content{Kind: KindPlain, Text: text}
}

// Bot builds a bot-response variant attributed to the given model.
func Bot(model, text string) Content {
	return Content{Kind: KindBot, Model: model, Text: text}
}

// Digest builds a digest variant.
func Digest(p DigestPayload) Content {
	return Content{Kind: KindDigest, Digest: &p}
}

// Parse decodes a persisted message body into its typed variant. Unknown
// prefixes and digest bodies that fail to decode degrade to KindPlain with
// the raw text preserved, so a malformed row still renders as something.
func Parse(raw string) Content {
	if body, ok := strings.CutPrefix(raw, DigestPrefix); ok {
		var p DigestPayload
		if err := json.Unmarshal([]byte(body), &p); err == nil && p.DigestID != "" {
			return Content{Kind: KindDigest, Digest: &p}
		}
		return Content{Kind: KindPlain, Text: raw}
	}

	if rest, ok := strings.CutPrefix(raw, botPrefixOpen); ok {
		if i := strings.Index(rest, botPrefixClose); i > 0 {
			model := rest[:i]
			if validModelID(model) {
				return Content{
					Kind:  KindBot,
					Model: model,
					Text:  rest[i+len(botPrefixClose):],
				}
			}
		}
		return Content{Kind: KindPlain, Text: raw}
	}

	return Content{Kind: KindPlain, Text: raw}
}

// Encode serializes the variant back to its persisted wire form.
func (c Content) Encode() string {
	switch c.Kind {
	case KindDigest:
		if c.Digest == nil {
			return ""
		}
		body, err := json.Marshal(c.Digest)
		if err != nil {
			return ""
		}
		return DigestPrefix + string(body)
	case KindBot:
		return botPrefixOpen + c.Model + botPrefixClose + c.Text
	default:
		return c.Text
	}
}

// validModelID reports whether s looks like a model identifier: lowercase
// alphanumerics and hyphens only. Guards against treating ordinary text that
// happens to start with "[bot:" as an attribution marker.
func validModelID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}
