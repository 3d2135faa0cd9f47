package dto

import "time"

// Conversation describes chat metadata as seen by one participant.
type Conversation struct {
	ID               string     `json:"id"`
	ListingID        string     `json:"listing_id"`
	OwnerID          string     `json:"owner_id"`
	InterestedUserID string     `json:"interested_user_id"`
	LastMessageText  string     `json:"last_message_text,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	UnreadCount      int64      `json:"unread_count"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ConversationList is a paginated collection.
type ConversationList struct {
	Items      []Conversation `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// ChatMessageList is a paginated message list.
type ChatMessageList struct {
	Items      []ChatMessage `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
