package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/clients/registry"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/rag"
	"github.com/lifequery/backend/internal/settings"
	"github.com/lifequery/backend/internal/sse"
)

type ChatHandler struct {
	pipeline *rag.Pipeline
	registry *registry.Registry
	store    *settings.Store
	log      *logger.Logger
}

func NewChatHandler(pipeline *rag.Pipeline, reg *registry.Registry, store *settings.Store, log *logger.Logger) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, registry: reg, store: store, log: log.With("handler", "ChatHandler")}
}

type chatRequest struct {
	Query   string        `json:"query"`
	History []llm.Message `json:"history"`
	UseRAG  *bool         `json:"use_rag"`
}

// Stream answers one query as an SSE stream of token, reasoning and
// citation frames.
func (h *ChatHandler) Stream(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing query"))
		return
	}
	useRAG := true
	if body.UseRAG != nil {
		useRAG = *body.UseRAG
	}

	snap := h.store.Snapshot()
	embedder, err := h.registry.Embedder(snap)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err)
		return
	}
	chatClient, err := h.registry.Chat(c.Request.Context(), snap)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err)
		return
	}

	stream := sse.NewStream(c.Writer, h.log)
	if stream == nil {
		RespondError(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	defer stream.Done()

	err = h.pipeline.Run(c.Request.Context(), body.Query, body.History, useRAG, snap, embedder, chatClient,
		func(ev rag.Event) error { return stream.Send(ev) })
	if err != nil {
		h.log.Warn("Chat stream ended early", "error", err)
	}
}
