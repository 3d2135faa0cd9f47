package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	appchat "marketchat/internal/app/chat"
	"marketchat/internal/app/dto"
	domainchat "marketchat/internal/domain/chat"
)

const (
	// EventMessageNew is pushed when a message is committed to a conversation.
	EventMessageNew = "message:new"
	// EventConversationRead is pushed when a participant marks a thread read.
	EventConversationRead = "conversation:read"
)

// Gateway owns the live-connection registry: user id -> set of open websocket
// connections (a user may be connected from several devices). Delivery is
// best-effort and at-most-once per connection; participants without a live
// connection pick changes up on their next list call.
type Gateway struct {
	logger     *slog.Logger
	sendBuffer int

	mu    sync.RWMutex
	conns map[string]map[*Connection]struct{}
}

func NewGateway(logger *slog.Logger, sendBuffer int) *Gateway {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Gateway{
		logger:     logger,
		sendBuffer: sendBuffer,
		conns:      make(map[string]map[*Connection]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleConnection upgrades an already-authenticated request and runs the
// connection's pumps until it drops.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := g.register(userID, sock)
	go conn.writePump()
	go conn.readPump()
	return nil
}

func (g *Gateway) register(userID string, sock *websocket.Conn) *Connection {
	conn := &Connection{
		id:      uuid.NewString(),
		userID:  userID,
		sock:    sock,
		send:    make(chan []byte, g.sendBuffer),
		done:    make(chan struct{}),
		gateway: g,
	}
	g.mu.Lock()
	set, ok := g.conns[userID]
	if !ok {
		set = make(map[*Connection]struct{})
		g.conns[userID] = set
	}
	set[conn] = struct{}{}
	g.mu.Unlock()
	if g.logger != nil {
		g.logger.Info("ws connected", "user_id", userID, "connection_id", conn.id)
	}
	return conn
}

// deregister removes exactly the given connection; the user's other devices
// stay registered.
func (g *Gateway) deregister(conn *Connection) {
	g.mu.Lock()
	if set, ok := g.conns[conn.userID]; ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			if len(set) == 0 {
				delete(g.conns, conn.userID)
			}
		}
	}
	g.mu.Unlock()
	conn.shutdown()
	if g.logger != nil {
		g.logger.Info("ws disconnected", "user_id", conn.userID, "connection_id", conn.id)
	}
}

// ConnectionCount reports the user's live connections.
func (g *Gateway) ConnectionCount(userID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns[userID])
}

// MessageCreated fans a committed message out to both participants.
func (g *Gateway) MessageCreated(conv *domainchat.Conversation, msg *domainchat.Message) {
	g.emit(conv.Participants(), envelope{
		Event: EventMessageNew,
		Data: messageNewPayload{
			ConversationID: string(conv.ID),
			Message: dto.ChatMessage{
				ID:             string(msg.ID),
				ConversationID: string(msg.ConversationID),
				SenderID:       msg.SenderID,
				Text:           msg.Text,
				CreatedAt:      msg.CreatedAt,
			},
		},
	})
}

// ConversationRead notifies both participants of a read receipt.
func (g *Gateway) ConversationRead(conv *domainchat.Conversation, readerID string, readAt time.Time) {
	g.emit(conv.Participants(), envelope{
		Event: EventConversationRead,
		Data: conversationReadPayload{
			ConversationID: string(conv.ID),
			ReaderID:       readerID,
			ReadAt:         readAt,
		},
	})
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type messageNewPayload struct {
	ConversationID string          `json:"conversation_id"`
	Message        dto.ChatMessage `json:"message"`
}

type conversationReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	ReadAt         time.Time `json:"read_at"`
}

// emit delivers the payload to every connection of the given users. Each
// connection is independent: a full send queue tears that connection down
// instead of blocking the others.
func (g *Gateway) emit(userIDs []string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		if g.logger != nil {
			g.logger.Error("ws payload marshal failed", "error", err)
		}
		return
	}

	g.mu.RLock()
	targets := make([]*Connection, 0, 4)
	for _, userID := range userIDs {
		for conn := range g.conns[userID] {
			targets = append(targets, conn)
		}
	}
	g.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.send <- data:
		case <-conn.done:
		default:
			if g.logger != nil {
				g.logger.Warn("ws send queue full, dropping connection", "user_id", conn.userID, "connection_id", conn.id)
			}
			g.deregister(conn)
		}
	}
}

var _ appchat.DeliverySink = (*Gateway)(nil)
