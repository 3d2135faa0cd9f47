package chat

import "time"

// Event names published to the platform feed.
const (
	EventConversationCreated = "chat.conversation_created"
	EventMessageSent         = "chat.message_sent"
	EventConversationRead    = "chat.conversation_read"
)

// ConversationCreatedEvent is emitted once per conversation, on first contact.
type ConversationCreatedEvent struct {
	ConversationID   string    `json:"conversation_id"`
	ListingID        string    `json:"listing_id"`
	OwnerID          string    `json:"owner_id"`
	InterestedUserID string    `json:"interested_user_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// MessageSentEvent is emitted after a message is durably appended.
type MessageSentEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationReadEvent is emitted when a participant resets their unread side.
type ConversationReadEvent struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
	Marked         int64     `json:"marked"`
}
