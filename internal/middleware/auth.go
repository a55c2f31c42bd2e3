package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

// APIKeyMiddleware gates the API behind the optional api_key setting. With
// no key configured every request passes: the engine is single-user and
// normally bound to localhost.
type APIKeyMiddleware struct {
	store *settings.Store
	log   *logger.Logger
}

func NewAPIKeyMiddleware(store *settings.Store, log *logger.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{store: store, log: log.With("middleware", "APIKeyMiddleware")}
}

func (am *APIKeyMiddleware) RequireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		required := strings.TrimSpace(am.store.Snapshot().APIKey)
		if required == "" {
			c.Next()
			return
		}
		if extractToken(c) != required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid API key"})
			return
		}
		c.Next()
	}
}

// extractToken accepts Bearer auth and falls back to a token query param,
// which EventSource clients need since they cannot set headers.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	return ""
}
