package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"marketchat/internal/infra/security"
)

const principalContextKey = "marketchat.principal"

type principal struct {
	ID    string
	Name  string
	Token string
}

// AuthMiddleware resolves the caller's identity from a bearer token. Requests
// without a valid token continue anonymously; per-route guards decide whether
// identity is required.
type AuthMiddleware struct {
	Auth   *security.Authenticator
	Logger *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		// Browser websocket clients cannot set headers on the upgrade request.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || m.Auth == nil {
		c.Next()
		return
	}
	claims, err := m.Auth.ResolveToken(token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{
		ID:    claims.UserID,
		Name:  claims.Name,
		Token: token,
	})
	c.Next()
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok || p.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}
