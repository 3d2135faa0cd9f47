package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"marketchat/internal/infra/config"
	"marketchat/internal/infra/obs"
)

type Handlers struct {
	Chat           ChatHTTP
	WS             gin.HandlerFunc
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Chat != nil {
		api.POST("/conversations", h.Chat.CreateConversation)
		api.GET("/conversations", h.Chat.ListMyConversations)
		api.GET("/conversations/:id", h.Chat.GetConversation)
		api.POST("/conversations/:id/messages", h.Chat.SendMessage)
		api.GET("/conversations/:id/messages", h.Chat.ListMessages)
		api.PATCH("/conversations/:id/read", h.Chat.MarkRead)
		api.POST("/conversations/:id/archive", h.Chat.Archive)
		api.POST("/conversations/:id/block", h.Chat.Block)
		api.GET("/unread-count", h.Chat.UnreadCount)
	}
	if h.WS != nil {
		router.GET("/ws", h.WS)
	}

	return &http.Server{Addr: cfg.HTTPAddr, Handler: router}
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
