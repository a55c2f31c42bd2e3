package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/ingest"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/sse"
)

type ChatsHandler struct {
	repos  *repos.Repos
	ingest *ingest.Service
	log    *logger.Logger
}

func NewChatsHandler(r *repos.Repos, svc *ingest.Service, log *logger.Logger) *ChatsHandler {
	return &ChatsHandler{repos: r, ingest: svc, log: log.With("handler", "ChatsHandler")}
}

func (h *ChatsHandler) List(c *gin.Context) {
	rows, err := h.repos.Chat.List(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": rows})
}

// Sync pulls the dialog list from the live source into the chats table
// without fetching messages, streaming progress as SSE.
func (h *ChatsHandler) Sync(c *gin.Context) {
	stream := sse.NewStream(c.Writer, h.log)
	if stream == nil {
		RespondError(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	defer stream.Done()

	count, err := h.ingest.DiscoverDialogs(c.Request.Context(), func(ev ingest.Event) error {
		return stream.Send(ev)
	})
	if err != nil {
		_ = stream.Send(ingest.Event{Type: ingest.EventError, Message: err.Error()})
		return
	}
	_ = stream.Send(gin.H{"type": ingest.EventDone, "discovered": count})
}

// Update changes the inclusion flag and/or display name of one chat.
func (h *ChatsHandler) Update(c *gin.Context) {
	var body struct {
		Included *bool   `json:"included"`
		ChatName *string `json:"chat_name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || (body.Included == nil && body.ChatName == nil) {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing included flag or chat_name"))
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	chatID := c.Param("id")

	if body.Included != nil {
		err := h.repos.Chat.SetIncluded(dbc, chatID, *body.Included)
		if err == gorm.ErrRecordNotFound {
			RespondError(c, http.StatusNotFound, fmt.Errorf("chat not found"))
			return
		}
		if err != nil {
			RespondError(c, http.StatusInternalServerError, err)
			return
		}
	}
	if body.ChatName != nil {
		name := strings.TrimSpace(*body.ChatName)
		if name == "" {
			RespondError(c, http.StatusBadRequest, fmt.Errorf("chat_name must not be empty"))
			return
		}
		err := h.repos.Chat.Rename(dbc, chatID, name)
		if err == gorm.ErrRecordNotFound {
			RespondError(c, http.StatusNotFound, fmt.Errorf("chat not found"))
			return
		}
		if err != nil {
			RespondError(c, http.StatusInternalServerError, err)
			return
		}
	}

	chat, err := h.repos.Chat.Get(dbc, chatID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// Delete removes the chat's messages, chunks and vectors.
func (h *ChatsHandler) Delete(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := h.repos.Chat.Get(dbctx.Context{Ctx: c.Request.Context()}, chatID); err != nil {
		RespondError(c, http.StatusNotFound, fmt.Errorf("chat not found"))
		return
	}
	messagesDeleted, chunksDeleted, err := h.ingest.DeleteChat(c.Request.Context(), chatID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id":          chatID,
		"messages_deleted": messagesDeleted,
		"chunks_deleted":   chunksDeleted,
	})
}
