package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/source"
)

// healthCacheTTL bounds how often the health endpoint hits the DB and the
// source sidecar; dashboards poll this endpoint aggressively.
const healthCacheTTL = 30 * time.Second

type HealthHandler struct {
	repos  *repos.Repos
	bridge source.Bridge
	log    *logger.Logger

	mu       sync.Mutex
	cached   gin.H
	cachedAt time.Time
}

func NewHealthHandler(r *repos.Repos, bridge source.Bridge, log *logger.Logger) *HealthHandler {
	return &HealthHandler{repos: r, bridge: bridge, log: log.With("handler", "HealthHandler")}
}

func (h *HealthHandler) Health(c *gin.Context) {
	h.mu.Lock()
	if h.cached != nil && time.Since(h.cachedAt) < healthCacheTTL {
		payload := h.cached
		h.mu.Unlock()
		c.JSON(http.StatusOK, payload)
		return
	}
	h.mu.Unlock()

	ctx := c.Request.Context()
	dbc := dbctx.Context{Ctx: ctx}

	messages, _ := h.repos.Message.Count(dbc)
	chunks, _ := h.repos.Chunk.Count(dbc)
	embedded, _ := h.repos.Chunk.CountEmbedded(dbc)

	status, err := h.bridge.Status(ctx)
	if err != nil {
		h.log.Warn("Source status check failed", "error", err)
	}

	payload := gin.H{
		"status":             "ok",
		"telegram_connected": status.State == source.StateConnected,
		"telegram_state":     status.State,
		"messages":           messages,
		"chunks":             chunks,
		"chunks_embedded":    embedded,
	}

	h.mu.Lock()
	h.cached = payload
	h.cachedAt = time.Now()
	h.mu.Unlock()

	c.JSON(http.StatusOK, payload)
}
