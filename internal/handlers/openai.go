package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lifequery/backend/internal/chunker"
	"github.com/lifequery/backend/internal/clients/embedding"
	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/clients/registry"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/rag"
	"github.com/lifequery/backend/internal/settings"
	"github.com/lifequery/backend/internal/sse"
)

// Model ids on the OpenAI-compatible surface. The memory and chat variants
// let external clients toggle retrieval by picking a model.
const (
	CompatModelID       = "lifequery"
	CompatModelMemoryID = "lifequery-memory"
	CompatModelChatID   = "lifequery-chat"
)

// OpenAIHandler exposes the engine to OpenAI-compatible clients (desktop
// chat apps, editors) without them knowing about retrieval.
type OpenAIHandler struct {
	pipeline *rag.Pipeline
	registry *registry.Registry
	store    *settings.Store
	log      *logger.Logger
}

func NewOpenAIHandler(pipeline *rag.Pipeline, reg *registry.Registry, store *settings.Store, log *logger.Logger) *OpenAIHandler {
	return &OpenAIHandler{pipeline: pipeline, registry: reg, store: store, log: log.With("handler", "OpenAIHandler")}
}

func (h *OpenAIHandler) Models(c *gin.Context) {
	created := time.Now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{"id": CompatModelID, "object": "model", "created": created, "owned_by": "lifequery"},
			{"id": CompatModelMemoryID, "object": "model", "created": created, "owned_by": "lifequery"},
			{"id": CompatModelChatID, "object": "model", "created": created, "owned_by": "lifequery"},
		},
	})
}

type compatChatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	RAG      *bool         `json:"rag"`
}

// resolveRAG maps the requested model name onto the retrieval toggle. An
// explicit rag field wins; otherwise the chat/norag variants disable and the
// memory/rag variants enable. norag must be checked before rag, which it
// contains.
func resolveRAG(model string, override *bool) bool {
	if override != nil {
		return *override
	}
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "norag"), strings.Contains(name, "regular"), strings.Contains(name, "chat"):
		return false
	case strings.Contains(name, "rag"), strings.Contains(name, "memory"):
		return true
	}
	return true
}

type compatChoice struct {
	Index        int          `json:"index"`
	Message      *llm.Message `json:"message,omitempty"`
	Delta        gin.H        `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

func completionID() string {
	return fmt.Sprintf("chatcmpl-%d-%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// splitHistory peels the trailing user message off as the query; everything
// before it is conversation history for prompt assembly.
func splitHistory(messages []llm.Message) (string, []llm.Message, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			query := messages[i].Content
			history := append([]llm.Message{}, messages[:i]...)
			return query, history, nil
		}
	}
	return "", nil, fmt.Errorf("no user message in request")
}

func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var body compatChatRequest
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Messages) == 0 {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing messages"))
		return
	}
	query, history, err := splitHistory(body.Messages)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err)
		return
	}
	useRAG := resolveRAG(body.Model, body.RAG)

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

	model := body.Model
	if model == "" {
		model = CompatModelID
	}
	id := completionID()
	created := time.Now().Unix()

	if body.Stream {
		h.streamCompletions(c, id, model, query, history, useRAG, snap, embedder, chatClient, created)
		return
	}

	var answer strings.Builder
	var citations []rag.Citation
	err = h.pipeline.Run(c.Request.Context(), query, history, useRAG, snap, embedder, chatClient,
		func(ev rag.Event) error {
			switch ev.Type {
			case rag.EventToken:
				answer.WriteString(ev.Content)
			case rag.EventCitations:
				citations = ev.Citations
			}
			return nil
		})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}

	stop := "stop"
	promptTokens := 0
	for _, m := range body.Messages {
		promptTokens += chunker.EstimateTokens(m.Content)
	}
	completionTokens := chunker.EstimateTokens(answer.String())
	payload := gin.H{
		"id":      id,
		"object":  "chat.completion",
		"created": created,
		"model":   model,
		"choices": []compatChoice{{
			Index:        0,
			Message:      &llm.Message{Role: "assistant", Content: answer.String()},
			FinishReason: &stop,
		}},
		"usage": gin.H{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
	if len(citations) > 0 {
		payload["x_citations"] = citations
	}
	c.JSON(http.StatusOK, payload)
}

func (h *OpenAIHandler) streamCompletions(
	c *gin.Context,
	id, model, query string,
	history []llm.Message,
	useRAG bool,
	snap settings.Snapshot,
	embedder embedding.Client,
	chatClient llm.Client,
	created int64,
) {
	stream := sse.NewStream(c.Writer, h.log)
	if stream == nil {
		RespondError(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	defer stream.Done()

	chunk := func(delta gin.H, finish *string, extra gin.H) error {
		payload := gin.H{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   model,
			"choices": []compatChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
		for k, v := range extra {
			payload[k] = v
		}
		return stream.Send(payload)
	}

	var citations []rag.Citation
	err := h.pipeline.Run(c.Request.Context(), query, history, useRAG, snap, embedder, chatClient,
		func(ev rag.Event) error {
			switch ev.Type {
			case rag.EventToken:
				return chunk(gin.H{"content": ev.Content}, nil, nil)
			case rag.EventReasoning:
				return chunk(gin.H{"reasoning": ev.Content}, nil, nil)
			case rag.EventCitations:
				citations = ev.Citations
			}
			return nil
		})
	if err != nil {
		h.log.Warn("Completion stream ended early", "error", err)
		return
	}

	stop := "stop"
	var extra gin.H
	if len(citations) > 0 {
		extra = gin.H{"x_citations": citations}
	}
	_ = chunk(gin.H{}, &stop, extra)
}

type compatCompletionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	RAG    *bool  `json:"rag"`
}

// Completions adapts the legacy text-completion shape onto the chat
// pipeline for clients that never moved to /chat/completions.
func (h *OpenAIHandler) Completions(c *gin.Context) {
	var body compatCompletionRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Prompt) == "" {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing prompt"))
		return
	}
	useRAG := resolveRAG(body.Model, body.RAG)

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

	var answer strings.Builder
	err = h.pipeline.Run(c.Request.Context(), body.Prompt, nil, useRAG, snap, embedder, chatClient,
		func(ev rag.Event) error {
			if ev.Type == rag.EventToken {
				answer.WriteString(ev.Content)
			}
			return nil
		})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}

	stop := "stop"
	c.JSON(http.StatusOK, gin.H{
		"id":      strings.Replace(completionID(), "chatcmpl", "cmpl", 1),
		"object":  "text_completion",
		"created": time.Now().Unix(),
		"model":   body.Model,
		"choices": []gin.H{{
			"index":         0,
			"text":          answer.String(),
			"finish_reason": stop,
		}},
	})
}
