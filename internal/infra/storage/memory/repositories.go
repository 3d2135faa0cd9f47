package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appchat "marketchat/internal/app/chat"
	domainchat "marketchat/internal/domain/chat"
	domainlistings "marketchat/internal/domain/listings"
)

// The memory repositories back the demo storage mode and the test suite. They
// honor the same contracts as the Mongo implementations: triple uniqueness,
// atomic counter updates under one lock, time-ordered message ids.

type tripleKey struct {
	listing    domainlistings.ListingID
	owner      string
	interested string
}

// ConversationRepository is an in-memory chat.ConversationRepository.
type ConversationRepository struct {
	mu      sync.RWMutex
	seq     uint64
	items   map[domainchat.ConversationID]domainchat.Conversation
	triples map[tripleKey]domainchat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items:   make(map[domainchat.ConversationID]domainchat.Conversation),
		triples: make(map[tripleKey]domainchat.ConversationID),
	}
}

func (r *ConversationRepository) nextID() domainchat.ConversationID {
	r.seq++
	return domainchat.ConversationID(fmt.Sprintf("%024x", r.seq))
}

func (r *ConversationRepository) Create(ctx context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tripleKey{conv.ListingID, conv.OwnerID, conv.InterestedUserID}
	if _, ok := r.triples[key]; ok {
		return nil, domainchat.ErrConversationExists
	}
	stored := *conv
	stored.ID = r.nextID()
	stored.Status = domainchat.StatusActive
	r.items[stored.ID] = stored
	r.triples[key] = stored.ID
	out := stored
	return &out, nil
}

func (r *ConversationRepository) ByTriple(ctx context.Context, listingID domainlistings.ListingID, ownerID, interestedID string) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.triples[tripleKey{listingID, ownerID, interestedID}]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	conv := r.items[id]
	return &conv, nil
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.items[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	out := conv
	return &out, nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string, cursor appchat.Cursor, limit int) ([]domainchat.Conversation, error) {
	r.mu.RLock()
	matches := make([]domainchat.Conversation, 0, len(r.items))
	for _, conv := range r.items {
		if conv.OwnerID != userID && conv.InterestedUserID != userID {
			continue
		}
		matches = append(matches, conv)
	}
	r.mu.RUnlock()

	// Newest activity first; conversations without messages sort last.
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		aHas, bHas := !a.LastMessageAt.IsZero(), !b.LastMessageAt.IsZero()
		if aHas != bHas {
			return aHas
		}
		if aHas && !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID > b.ID
	})

	page := make([]domainchat.Conversation, 0, limit)
	for _, conv := range matches {
		if !cursor.Zero() && !beyondCursor(conv, cursor) {
			continue
		}
		page = append(page, conv)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func beyondCursor(conv domainchat.Conversation, cursor appchat.Cursor) bool {
	hasMsg := !conv.LastMessageAt.IsZero()
	if cursor.At.IsZero() {
		// Cursor already in the no-messages tail.
		return !hasMsg && string(conv.ID) < cursor.ID
	}
	if !hasMsg {
		return true
	}
	if conv.LastMessageAt.Before(cursor.At) {
		return true
	}
	return conv.LastMessageAt.Equal(cursor.At) && string(conv.ID) < cursor.ID
}

func (r *ConversationRepository) ApplyMessage(ctx context.Context, id domainchat.ConversationID, msg *domainchat.Message, recipientIsOwner bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.items[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	if conv.Status == domainchat.StatusBlocked {
		return domainchat.ErrConversationBlocked
	}
	conv.LastMessageText = domainchat.Snippet(msg.Text, appchat.SnippetRunes)
	conv.LastMessageAt = msg.CreatedAt
	conv.Status = domainchat.StatusActive
	if recipientIsOwner {
		conv.UnreadOwner++
	} else {
		conv.UnreadInterested++
	}
	r.items[id] = conv
	return nil
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, id domainchat.ConversationID, readerIsOwner bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.items[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	if readerIsOwner {
		conv.UnreadOwner = 0
	} else {
		conv.UnreadInterested = 0
	}
	r.items[id] = conv
	return nil
}

func (r *ConversationRepository) SetStatus(ctx context.Context, id domainchat.ConversationID, status domainchat.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.items[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	conv.Status = status
	r.items[id] = conv
	return nil
}

func (r *ConversationRepository) UnreadTotal(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, conv := range r.items {
		if conv.Status != domainchat.StatusActive {
			continue
		}
		switch userID {
		case conv.OwnerID:
			total += conv.UnreadOwner
		case conv.InterestedUserID:
			total += conv.UnreadInterested
		}
	}
	return total, nil
}

// MessageRepository is an in-memory chat.MessageRepository. Ids are fixed-width
// hex sequence numbers, so lexicographic order equals creation order.
type MessageRepository struct {
	mu    sync.RWMutex
	seq   uint64
	items map[domainchat.ConversationID][]domainchat.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{items: make(map[domainchat.ConversationID][]domainchat.Message)}
}

func (r *MessageRepository) Append(ctx context.Context, msg *domainchat.Message) (*domainchat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	stored := *msg
	stored.ID = domainchat.MessageID(fmt.Sprintf("%024x", r.seq))
	stored.CreatedAt = time.Now().UTC()
	r.items[stored.ConversationID] = append(r.items[stored.ConversationID], stored)
	out := stored
	return &out, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, convID domainchat.ConversationID, beforeID domainchat.MessageID, limit int) ([]domainchat.Message, error) {
	if beforeID != "" && !validMessageID(string(beforeID)) {
		return nil, domainchat.ErrInvalidCursor
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.items[convID]
	page := make([]domainchat.Message, 0, limit)
	// The log is append-only, so walking backwards yields newest-first.
	for i := len(log) - 1; i >= 0; i-- {
		msg := log[i]
		if beforeID != "" && msg.ID >= beforeID {
			continue
		}
		page = append(page, msg)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// validMessageID accepts the 24-char lowercase hex shape shared by stored
// message ids, matching how the document store rejects a malformed cursor.
func validMessageID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (r *MessageRepository) MarkRead(ctx context.Context, convID domainchat.ConversationID, readerID string, readAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var marked int64
	log := r.items[convID]
	for i := range log {
		if log[i].SenderID == readerID || !log[i].ReadAt.IsZero() {
			continue
		}
		log[i].ReadAt = readAt
		marked++
	}
	return marked, nil
}

// ListingDirectory is an in-memory chat.ListingDirectory, seeded from fixtures
// in demo mode.
type ListingDirectory struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]domainlistings.Listing
}

func NewListingDirectory() *ListingDirectory {
	return &ListingDirectory{items: make(map[domainlistings.ListingID]domainlistings.Listing)}
}

func (d *ListingDirectory) Add(listing domainlistings.Listing) error {
	if !listing.Valid() {
		return domainlistings.ErrListingNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[listing.ID] = listing
	return nil
}

func (d *ListingDirectory) OwnerOf(ctx context.Context, id domainlistings.ListingID) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	listing, ok := d.items[id]
	if !ok {
		return "", domainlistings.ErrListingNotFound
	}
	return string(listing.Host), nil
}

var (
	_ appchat.ConversationRepository = (*ConversationRepository)(nil)
	_ appchat.MessageRepository      = (*MessageRepository)(nil)
	_ appchat.ListingDirectory       = (*ListingDirectory)(nil)
)
