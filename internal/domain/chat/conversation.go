package chat

import (
	"errors"
	"time"

	"marketchat/internal/domain/listings"
)

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrNotParticipant       = errors.New("chat: user is not a conversation participant")
	ErrSelfConversation     = errors.New("chat: cannot open a conversation with yourself")
	ErrConversationBlocked  = errors.New("chat: conversation is blocked")
	ErrConversationExists   = errors.New("chat: conversation already exists for this listing and participants")
	ErrInvalidCursor        = errors.New("chat: invalid cursor")
)

type ConversationID string

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusBlocked  Status = "blocked"
)

// Conversation is the durable relationship between a listing owner and one
// interested user. Exactly one exists per (listing, owner, interested user).
type Conversation struct {
	ID               ConversationID
	ListingID        listings.ListingID
	OwnerID          string
	InterestedUserID string
	LastMessageText  string
	LastMessageAt    time.Time // zero until the first message
	UnreadOwner      int64
	UnreadInterested int64
	Status           Status
	CreatedAt        time.Time
}

// IsParticipant reports whether userID is one of the two parties.
func (c *Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.OwnerID || userID == c.InterestedUserID)
}

// PeerOf returns the other participant for userID.
func (c *Conversation) PeerOf(userID string) (string, bool) {
	switch userID {
	case c.OwnerID:
		return c.InterestedUserID, true
	case c.InterestedUserID:
		return c.OwnerID, true
	default:
		return "", false
	}
}

// UnreadFor returns the unread counter belonging to userID's side.
func (c *Conversation) UnreadFor(userID string) int64 {
	if userID == c.OwnerID {
		return c.UnreadOwner
	}
	return c.UnreadInterested
}

// Participants returns both party ids, owner first.
func (c *Conversation) Participants() []string {
	return []string{c.OwnerID, c.InterestedUserID}
}

// LastActivity is the sort key for conversation lists: the last message time,
// zero for conversations that have no messages yet (those sort last).
func (c *Conversation) LastActivity() time.Time {
	return c.LastMessageAt
}
