package room

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // max encoded size
	MaxTextChars    = 2000 // max character count
)

// ErrEmptyMessage is returned by SendMessage before any network call when
// the text is blank after trimming.
var ErrEmptyMessage = errors.New("room: message text is empty")

// ValidateText checks that outgoing message text meets content requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("room: message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("room: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("room: message contains invalid UTF-8")
	}
	return nil
}
