package relay

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max text size
	MaxTextChars    = 2000 // max character count
	MaxCaptionChars = 1024
	MaxMediaRefLen  = 512
)

// ValidateText checks that a text message meets content requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// Validate checks a message of any kind.
func (m Message) Validate() error {
	if !m.Kind.IsMedia() {
		if m.Kind != KindText {
			return fmt.Errorf("unknown message kind %d", int(m.Kind))
		}
		return ValidateText(m.Text)
	}
	if m.MediaRef == "" {
		return fmt.Errorf("%s message has no media reference", m.Kind)
	}
	if len(m.MediaRef) > MaxMediaRefLen {
		return fmt.Errorf("media reference exceeds %d bytes", MaxMediaRefLen)
	}
	if !utf8.ValidString(m.Caption) {
		return fmt.Errorf("caption contains invalid UTF-8")
	}
	if utf8.RuneCountInString(m.Caption) > MaxCaptionChars {
		return fmt.Errorf("caption exceeds %d character limit", MaxCaptionChars)
	}
	return nil
}
