package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	appchat "marketchat/internal/app/chat"
	"marketchat/internal/app/dto"
	domainchat "marketchat/internal/domain/chat"
	domainlistings "marketchat/internal/domain/listings"
)

// ChatHTTP exposes the conversation endpoints.
type ChatHTTP interface {
	CreateConversation(c *gin.Context)
	ListMyConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	ListMessages(c *gin.Context)
	MarkRead(c *gin.Context)
	UnreadCount(c *gin.Context)
	Archive(c *gin.Context)
	Block(c *gin.Context)
}

// ChatHandler bridges HTTP with the chat service.
type ChatHandler struct {
	Service *appchat.Service
	Logger  *slog.Logger
}

// CreateConversation opens (or returns) the caller's thread with the listing
// owner: 201 on first creation, 200 on idempotent reuse.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		ListingID string `json:"listing_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.ListingID = strings.TrimSpace(req.ListingID)
	if req.ListingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing_id is required"})
		return
	}

	conv, created, err := h.Service.CreateOrGet(c.Request.Context(), p.ID, domainlistings.ListingID(req.ListingID))
	if err != nil {
		h.respondChatError(c, err, "create conversation", "listing_id", req.ListingID, "user_id", p.ID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toConversationDTO(conv, p.ID))
}

// ListMyConversations returns the caller's threads, newest activity first.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), 20)
	conversations, next, err := h.Service.List(c.Request.Context(), p.ID, c.Query("cursor"), limit)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	collection := dto.ConversationList{
		Items:      make([]dto.Conversation, 0, len(conversations)),
		NextCursor: next,
	}
	for i := range conversations {
		collection.Items = append(collection.Items, toConversationDTO(&conversations[i], p.ID))
	}
	c.JSON(http.StatusOK, collection)
}

// GetConversation returns a single thread if the caller participates in it.
func (h ChatHandler) GetConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := conversationParam(c)
	if !ok {
		return
	}
	conv, err := h.Service.Get(c.Request.Context(), p.ID, id)
	if err != nil {
		h.respondChatError(c, err, "load conversation", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(conv, p.ID))
}

// SendMessage posts a message to a conversation the caller participates in.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := conversationParam(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.Service.Send(c.Request.Context(), p.ID, id, req.Text)
	if err != nil {
		h.respondChatError(c, err, "send message", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, toMessageDTO(msg))
}

// ListMessages returns paginated history, newest first.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := conversationParam(c)
	if !ok {
		return
	}
	limit := parsePositiveIntStrict(c.Query("limit"), 50)
	messages, next, err := h.Service.ListMessages(c.Request.Context(), p.ID, id, c.Query("cursor"), limit)
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", id, "user_id", p.ID)
		return
	}
	collection := dto.ChatMessageList{
		Items:      make([]dto.ChatMessage, 0, len(messages)),
		NextCursor: next,
	}
	for i := range messages {
		collection.Items = append(collection.Items, *toMessageDTO(&messages[i]))
	}
	c.JSON(http.StatusOK, collection)
}

// MarkRead resets the caller's unread counter and stamps their read receipts.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := conversationParam(c)
	if !ok {
		return
	}
	readAt, marked, err := h.Service.MarkRead(c.Request.Context(), p.ID, id)
	if err != nil {
		h.respondChatError(c, err, "mark read", "conversation_id", id, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_at": readAt, "marked": marked})
}

// UnreadCount returns the caller's aggregate unread count.
func (h ChatHandler) UnreadCount(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	total, err := h.Service.UnreadCount(c.Request.Context(), p.ID)
	if err != nil {
		h.respondChatError(c, err, "unread count", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": total})
}

// Archive hides the thread from the caller's active list until the next send.
func (h ChatHandler) Archive(c *gin.Context) {
	h.setStatus(c, "archive")
}

// Block freezes the thread for both sides.
func (h ChatHandler) Block(c *gin.Context) {
	h.setStatus(c, "block")
}

func (h ChatHandler) setStatus(c *gin.Context, action string) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := conversationParam(c)
	if !ok {
		return
	}
	var err error
	if action == "block" {
		err = h.Service.Block(c.Request.Context(), p.ID, id)
	} else {
		err = h.Service.Archive(c.Request.Context(), p.ID, id)
	}
	if err != nil {
		h.respondChatError(c, err, action, "conversation_id", id, "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, domainchat.ErrTextRequired),
		errors.Is(err, domainchat.ErrTextTooLong),
		errors.Is(err, domainchat.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrMessageNotFound),
		errors.Is(err, domainlistings.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domainchat.ErrNotParticipant),
		errors.Is(err, domainchat.ErrSelfConversation),
		errors.Is(err, domainchat.ErrConversationBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat temporarily unavailable"})
	}
}

func conversationParam(c *gin.Context) (domainchat.ConversationID, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return "", false
	}
	return domainchat.ConversationID(id), true
}

func toConversationDTO(conv *domainchat.Conversation, viewerID string) dto.Conversation {
	out := dto.Conversation{
		ID:               string(conv.ID),
		ListingID:        string(conv.ListingID),
		OwnerID:          conv.OwnerID,
		InterestedUserID: conv.InterestedUserID,
		LastMessageText:  conv.LastMessageText,
		UnreadCount:      conv.UnreadFor(viewerID),
		Status:           string(conv.Status),
		CreatedAt:        conv.CreatedAt,
	}
	if !conv.LastMessageAt.IsZero() {
		at := conv.LastMessageAt
		out.LastMessageAt = &at
	}
	return out
}

func toMessageDTO(msg *domainchat.Message) *dto.ChatMessage {
	out := &dto.ChatMessage{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
	}
	if !msg.ReadAt.IsZero() {
		at := msg.ReadAt
		out.ReadAt = &at
	}
	return out
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

var _ ChatHTTP = (*ChatHandler)(nil)
