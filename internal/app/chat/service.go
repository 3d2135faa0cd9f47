package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	domainchat "marketchat/internal/domain/chat"
	domainlistings "marketchat/internal/domain/listings"
)

// SnippetRunes bounds the denormalized last-message text on a conversation.
const SnippetRunes = 500

// ConversationRepository persists conversations. Counter and last-message
// mutations must be single-document conditional updates in the storage engine,
// never read-modify-write round trips.
type ConversationRepository interface {
	// Create inserts a new conversation and returns domainchat.ErrConversationExists
	// when one already exists for the (listing, owner, interested user) triple.
	Create(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, error)
	ByTriple(ctx context.Context, listingID domainlistings.ListingID, ownerID, interestedID string) (*domainchat.Conversation, error)
	ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error)
	// ListForUser returns conversations where userID is either participant,
	// most recent activity first, conversations without messages last.
	ListForUser(ctx context.Context, userID string, cursor Cursor, limit int) ([]domainchat.Conversation, error)
	// ApplyMessage sets the last-message fields, increments the recipient's
	// unread counter and reactivates an archived thread, all in one atomic
	// update. It fails with domainchat.ErrConversationBlocked if the thread was
	// blocked in the meantime.
	ApplyMessage(ctx context.Context, id domainchat.ConversationID, msg *domainchat.Message, recipientIsOwner bool) error
	// ResetUnread atomically zeroes the reader's unread counter.
	ResetUnread(ctx context.Context, id domainchat.ConversationID, readerIsOwner bool) error
	SetStatus(ctx context.Context, id domainchat.ConversationID, status domainchat.Status) error
	// UnreadTotal sums the user's unread counters across active conversations.
	UnreadTotal(ctx context.Context, userID string) (int64, error)
}

// MessageRepository persists the append-only message log.
type MessageRepository interface {
	// Append stores the message, assigning a time-ordered id and CreatedAt.
	Append(ctx context.Context, msg *domainchat.Message) (*domainchat.Message, error)
	// ListByConversation returns messages newest-first, strictly below the
	// cursor id when one is given.
	ListByConversation(ctx context.Context, convID domainchat.ConversationID, beforeID domainchat.MessageID, limit int) ([]domainchat.Message, error)
	// MarkRead stamps readAt on every unread message in the conversation that
	// was not sent by readerID, returning how many were stamped.
	MarkRead(ctx context.Context, convID domainchat.ConversationID, readerID string, readAt time.Time) (int64, error)
}

// ListingDirectory resolves listing owners. It is the boundary to the
// externally-owned listings vertical.
type ListingDirectory interface {
	OwnerOf(ctx context.Context, id domainlistings.ListingID) (string, error)
}

// DeliverySink receives committed chat mutations for real-time fan-out.
// Implementations must be best-effort and must never return control-flow
// errors into the send path.
type DeliverySink interface {
	MessageCreated(conv *domainchat.Conversation, msg *domainchat.Message)
	ConversationRead(conv *domainchat.Conversation, readerID string, readAt time.Time)
}

// EventRecorder hands domain events to the platform feed.
type EventRecorder interface {
	Record(ctx context.Context, name, aggregateID string, payload any) error
}

// Service composes the stores, the listing directory and the delivery gateway
// behind the conversation API operations.
type Service struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Listings      ListingDirectory
	Delivery      DeliverySink  // optional
	Events        EventRecorder // optional
	Logger        *slog.Logger
	Now           func() time.Time // defaults to time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateOrGet opens the conversation between requesterID and the owner of
// listingID, or returns the existing one. The requester becomes the interested
// party. The second return value reports whether a new conversation was created.
func (s *Service) CreateOrGet(ctx context.Context, requesterID string, listingID domainlistings.ListingID) (*domainchat.Conversation, bool, error) {
	if strings.TrimSpace(string(listingID)) == "" {
		return nil, false, domainlistings.ErrListingNotFound
	}
	ownerID, err := s.Listings.OwnerOf(ctx, listingID)
	if err != nil {
		return nil, false, err
	}
	if ownerID == requesterID {
		return nil, false, domainchat.ErrSelfConversation
	}

	conv := &domainchat.Conversation{
		ListingID:        listingID,
		OwnerID:          ownerID,
		InterestedUserID: requesterID,
		Status:           domainchat.StatusActive,
		CreatedAt:        s.now(),
	}
	created, err := s.Conversations.Create(ctx, conv)
	if errors.Is(err, domainchat.ErrConversationExists) {
		// Lost the uniqueness race (or this is a repeat attempt): the existing
		// row wins and the call stays idempotent.
		existing, lookupErr := s.Conversations.ByTriple(ctx, listingID, ownerID, requesterID)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("load existing conversation: %w", lookupErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.record(ctx, domainchat.EventConversationCreated, string(created.ID), domainchat.ConversationCreatedEvent{
		ConversationID:   string(created.ID),
		ListingID:        string(created.ListingID),
		OwnerID:          created.OwnerID,
		InterestedUserID: created.InterestedUserID,
		CreatedAt:        created.CreatedAt,
	})
	return created, true, nil
}

// Get returns a conversation the caller participates in.
func (s *Service) Get(ctx context.Context, callerID string, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(callerID) {
		return nil, domainchat.ErrNotParticipant
	}
	return conv, nil
}

// List returns a page of the caller's conversations, newest activity first.
func (s *Service) List(ctx context.Context, callerID, rawCursor string, limit int) ([]domainchat.Conversation, string, error) {
	cursor, err := ParseCursor(rawCursor)
	if err != nil {
		return nil, "", err
	}
	limit = normalizeLimit(limit)
	page, err := s.Conversations.ListForUser(ctx, callerID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(page) == limit {
		last := page[len(page)-1]
		next = BuildCursor(last.LastActivity(), string(last.ID))
	}
	return page, next, nil
}

// Send appends a message from callerID and updates the conversation's
// denormalized fields and the recipient's unread counter. The message append is
// the durability boundary: if the conversation update fails afterwards the
// message stays and the counter heals on the next send or read.
func (s *Service) Send(ctx context.Context, callerID string, id domainchat.ConversationID, rawText string) (*domainchat.Message, error) {
	text, err := domainchat.ValidateText(rawText)
	if err != nil {
		return nil, err
	}
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(callerID) {
		return nil, domainchat.ErrNotParticipant
	}
	if conv.Status == domainchat.StatusBlocked {
		return nil, domainchat.ErrConversationBlocked
	}

	msg, err := s.Messages.Append(ctx, &domainchat.Message{
		ConversationID: conv.ID,
		SenderID:       callerID,
		Text:           text,
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	recipient, _ := conv.PeerOf(callerID)
	recipientIsOwner := recipient == conv.OwnerID
	if err := s.Conversations.ApplyMessage(ctx, conv.ID, msg, recipientIsOwner); err != nil {
		if errors.Is(err, domainchat.ErrConversationBlocked) {
			// Blocked concurrently with this send; the appended message stays
			// but no further bookkeeping or delivery happens.
			return msg, nil
		}
		// The message is durable; tolerate a transiently stale counter.
		s.warn("conversation update after append failed", "error", err, "conversation_id", conv.ID)
	} else {
		conv.LastMessageText = domainchat.Snippet(msg.Text, SnippetRunes)
		conv.LastMessageAt = msg.CreatedAt
		if recipientIsOwner {
			conv.UnreadOwner++
		} else {
			conv.UnreadInterested++
		}
		conv.Status = domainchat.StatusActive
	}

	s.record(ctx, domainchat.EventMessageSent, string(conv.ID), domainchat.MessageSentEvent{
		ConversationID: string(conv.ID),
		MessageID:      string(msg.ID),
		SenderID:       msg.SenderID,
		RecipientID:    recipient,
		CreatedAt:      msg.CreatedAt,
	})
	if s.Delivery != nil {
		s.Delivery.MessageCreated(conv, msg)
	}
	return msg, nil
}

// ListMessages returns a page of the conversation history, newest first.
func (s *Service) ListMessages(ctx context.Context, callerID string, id domainchat.ConversationID, rawCursor string, limit int) ([]domainchat.Message, string, error) {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !conv.IsParticipant(callerID) {
		return nil, "", domainchat.ErrNotParticipant
	}
	limit = normalizeLimit(limit)
	page, err := s.Messages.ListByConversation(ctx, conv.ID, domainchat.MessageID(strings.TrimSpace(rawCursor)), limit)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(page) == limit {
		next = string(page[len(page)-1].ID)
	}
	return page, next, nil
}

// MarkRead stamps readAt on every unread message addressed to callerID and
// zeroes the caller's unread counter. It returns the stamp time and how many
// messages were marked.
func (s *Service) MarkRead(ctx context.Context, callerID string, id domainchat.ConversationID) (time.Time, int64, error) {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return time.Time{}, 0, err
	}
	if !conv.IsParticipant(callerID) {
		return time.Time{}, 0, domainchat.ErrNotParticipant
	}

	readAt := s.now()
	marked, err := s.Messages.MarkRead(ctx, conv.ID, callerID, readAt)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("stamp messages read: %w", err)
	}
	if err := s.Conversations.ResetUnread(ctx, conv.ID, callerID == conv.OwnerID); err != nil {
		return time.Time{}, 0, fmt.Errorf("reset unread counter: %w", err)
	}

	s.record(ctx, domainchat.EventConversationRead, string(conv.ID), domainchat.ConversationReadEvent{
		ConversationID: string(conv.ID),
		ReaderID:       callerID,
		ReadAt:         readAt,
		Marked:         marked,
	})
	if s.Delivery != nil {
		s.Delivery.ConversationRead(conv, callerID, readAt)
	}
	return readAt, marked, nil
}

// UnreadCount aggregates the caller's unread counters across active
// conversations. Eventual consistency with in-flight sends is acceptable.
func (s *Service) UnreadCount(ctx context.Context, callerID string) (int64, error) {
	return s.Conversations.UnreadTotal(ctx, callerID)
}

// Archive moves the conversation out of the caller's active list. Idempotent;
// the next send reactivates the thread.
func (s *Service) Archive(ctx context.Context, callerID string, id domainchat.ConversationID) error {
	return s.setStatus(ctx, callerID, id, domainchat.StatusArchived)
}

// Block stops any further sends into the conversation from either side.
func (s *Service) Block(ctx context.Context, callerID string, id domainchat.ConversationID) error {
	return s.setStatus(ctx, callerID, id, domainchat.StatusBlocked)
}

func (s *Service) setStatus(ctx context.Context, callerID string, id domainchat.ConversationID, status domainchat.Status) error {
	conv, err := s.Conversations.ByID(ctx, id)
	if err != nil {
		return err
	}
	if !conv.IsParticipant(callerID) {
		return domainchat.ErrNotParticipant
	}
	if conv.Status == status {
		return nil
	}
	return s.Conversations.SetStatus(ctx, conv.ID, status)
}

func (s *Service) record(ctx context.Context, name, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Record(ctx, name, aggregateID, payload); err != nil {
		s.warn("event record failed", "error", err, "event", name, "aggregate_id", aggregateID)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// Cursor is the decoded page boundary for conversation lists: the last seen
// activity timestamp plus the conversation id as tie-break.
type Cursor struct {
	At time.Time
	ID string
}

// Zero reports an unset cursor (first page).
func (c Cursor) Zero() bool {
	return c.At.IsZero() && c.ID == ""
}

// ParseCursor decodes the "<unixNano>|<id>" wire form.
func ParseCursor(raw string) (Cursor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cursor{}, nil
	}
	parts := strings.Split(trimmed, "|")
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, domainchat.ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, domainchat.ErrInvalidCursor
	}
	cursor := Cursor{ID: parts[1]}
	if nanos > 0 {
		cursor.At = time.Unix(0, nanos).UTC()
	}
	return cursor, nil
}

// BuildCursor encodes the next-page boundary. A zero activity time encodes as
// nanos 0, meaning the walk has reached the no-messages tail.
func BuildCursor(at time.Time, id string) string {
	nanos := int64(0)
	if !at.IsZero() {
		nanos = at.UTC().UnixNano()
	}
	return fmt.Sprintf("%d|%s", nanos, id)
}
