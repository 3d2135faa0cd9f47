package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Connection is one live socket of one user. The event stream is push-only:
// inbound frames are drained for keepalive handling and otherwise ignored.
type Connection struct {
	id      string
	userID  string
	sock    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	gateway *Gateway
}

func (c *Connection) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// readPump drains the socket so pong handlers run and disconnects surface.
func (c *Connection) readPump() {
	defer func() {
		c.gateway.deregister(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.sock.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) && c.gateway.logger != nil {
				c.gateway.logger.Debug("ws read failed", "error", err, "connection_id", c.id)
			}
			return
		}
	}
}

// writePump serializes all writes to the socket: queued events, pings and the
// close frame. Write failures end the connection; there are no inline retries.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.gateway.deregister(c)
		c.sock.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				if c.gateway.logger != nil {
					c.gateway.logger.Warn("ws write failed", "error", err, "user_id", c.userID, "connection_id", c.id)
				}
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
