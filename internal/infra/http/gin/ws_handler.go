package ginserver

import (
	"log/slog"

	gin "github.com/gin-gonic/gin"

	"marketchat/internal/infra/ws"
)

// WSHandler upgrades authenticated requests into live event-stream connections.
type WSHandler struct {
	Gateway *ws.Gateway
	Logger  *slog.Logger
}

func (h WSHandler) Handle(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.Gateway.HandleConnection(c.Writer, c.Request, p.ID); err != nil {
		// The upgrader has already written the error response.
		if h.Logger != nil {
			h.Logger.Debug("ws upgrade failed", "error", err, "user_id", p.ID)
		}
	}
}
