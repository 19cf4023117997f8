package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTextRunes is the ceiling on message text length, counted in runes so
// multi-byte characters are not penalized.
const MaxTextRunes = 500

var (
	ErrEmptyText   = errors.New("text is required")
	ErrTextTooLong = fmt.Errorf("text exceeds %d characters", MaxTextRunes)
)

// MessageText rejects empty or whitespace-only text and text longer than
// MaxTextRunes.
func MessageText(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(s) > MaxTextRunes {
		return ErrTextTooLong
	}
	return nil
}

// Emoji rejects empty reaction keys and unreasonably long ones; the server
// does not maintain an emoji allow-list.
func Emoji(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("emoji is required")
	}
	if utf8.RuneCountInString(s) > 16 {
		return errors.New("emoji too long")
	}
	return nil
}
