package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type StatsHandler struct {
	repos   *repos.Repos
	vectors qdrant.VectorStore
	log     *logger.Logger
}

func NewStatsHandler(r *repos.Repos, vectors qdrant.VectorStore, log *logger.Logger) *StatsHandler {
	return &StatsHandler{repos: r, vectors: vectors, log: log.With("handler", "StatsHandler")}
}

func (h *StatsHandler) Stats(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	messages, _ := h.repos.Message.Count(dbc)
	chunks, _ := h.repos.Chunk.Count(dbc)
	embedded, _ := h.repos.Chunk.CountEmbedded(dbc)
	chats, _ := h.repos.Chat.Count(dbc)
	included, _ := h.repos.Chat.CountIncluded(dbc)

	vectorCount, err := h.vectors.Count(c.Request.Context())
	if err != nil {
		h.log.Warn("Vector count unavailable", "error", err)
		vectorCount = 0
	}

	payload := gin.H{
		"messages":        messages,
		"chunks":          chunks,
		"chunks_embedded": embedded,
		"vectors":         vectorCount,
		"chats":           chats,
		"chats_included":  included,
	}
	if last, err := h.repos.SyncLog.LastSuccess(dbc); err == nil && last != nil {
		payload["last_sync"] = gin.H{
			"operation":      last.Operation,
			"finished_at":    last.FinishedAt,
			"messages_added": last.MessagesAdded,
			"chunks_created": last.ChunksCreated,
		}
	}
	c.JSON(http.StatusOK, payload)
}

// Pending reports how much work the next process run would do.
func (h *StatsHandler) Pending(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	unchunked, err := h.repos.Message.CountUnchunked(dbc)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	pendingChunks, err := h.repos.Chunk.CountPending(dbc)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unchunked_messages": unchunked,
		"unembedded_chunks":  pendingChunks,
		"has_pending":        unchunked > 0 || pendingChunks > 0,
	})
}
