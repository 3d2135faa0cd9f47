package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrTextRequired    = errors.New("chat: message text is required")
	ErrTextTooLong     = errors.New("chat: message text exceeds the allowed length")
)

// MaxTextRunes bounds a single message body.
const MaxTextRunes = 1000

type MessageID string

// Message is one entry of a conversation's append-only log. Message ids are
// time-ordered, so sorting by id is sorting by creation order.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	Text           string
	CreatedAt      time.Time
	ReadAt         time.Time // zero until the recipient marks the conversation read
}

// Read reports whether the recipient has seen the message.
func (m *Message) Read() bool {
	return !m.ReadAt.IsZero()
}

// ValidateText trims the raw body and enforces the 1..MaxTextRunes bound.
func ValidateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrTextRequired
	}
	if len([]rune(text)) > MaxTextRunes {
		return "", ErrTextTooLong
	}
	return text, nil
}

// Snippet truncates text for the conversation's denormalized last-message field.
func Snippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
