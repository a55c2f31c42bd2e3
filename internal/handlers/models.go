package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

// fallbackModels is served when a cloud provider's /models endpoint is
// unreachable, so the settings UI still offers something to pick.
var fallbackModels = map[string][]string{
	"openrouter": {
		"qwen/qwen3-235b-a22b",
		"deepseek/deepseek-chat-v3-0324",
		"anthropic/claude-sonnet-4",
		"openai/gpt-4o-mini",
	},
	"minimax": {"MiniMax-M1", "MiniMax-Text-01"},
	"glmai":   {"glm-4.5", "glm-4.5-air"},
}

type ModelsHandler struct {
	store     *settings.Store
	providers repos.ProviderRepo
	log       *logger.Logger
}

func NewModelsHandler(store *settings.Store, providers repos.ProviderRepo, log *logger.Logger) *ModelsHandler {
	return &ModelsHandler{store: store, providers: providers, log: log.With("handler", "ModelsHandler")}
}

// List queries the provider's model catalog. Query params provider, url and
// api_key override the stored settings so the UI can probe credentials
// before saving them; a masked api_key resolves to the stored one.
func (h *ModelsHandler) List(c *gin.Context) {
	snap := h.store.Snapshot()

	providerID := strings.TrimSpace(c.Query("provider"))
	if providerID == "" {
		providerID = snap.ChatProvider
	}
	if providerID == "" {
		providerID = "ollama"
	}

	var profile *models.Provider
	if p, err := h.providers.Get(dbctx.Context{Ctx: c.Request.Context()}, providerID); err == nil {
		profile = p
	}

	url := strings.TrimSpace(c.Query("url"))
	apiKey := strings.TrimSpace(c.Query("api_key"))
	if apiKey == "" || apiKey == settings.MaskSentinel {
		apiKey = llm.ResolveAPIKey(providerID, snap, profile)
	}

	var cli llm.Client
	var err error
	if providerID == "ollama" {
		base := url
		if base == "" {
			base = snap.OllamaURL
		}
		cli, err = llm.NewOllamaClient(base, h.log)
	} else {
		base := llm.ResolveBaseURL(providerID, url, snap.CustomChatURL, profile)
		cli, err = llm.NewOpenAICompatClient(base, apiKey, nil, h.log)
	}
	if err != nil {
		RespondError(c, http.StatusBadRequest, err)
		return
	}

	names, err := cli.ListModels(c.Request.Context())
	if err != nil {
		h.log.Warn("Model listing failed", "provider", providerID, "error", err)
		if fb, ok := fallbackModels[providerID]; ok {
			c.JSON(http.StatusOK, gin.H{"models": fb, "fallback": true})
			return
		}
		RespondError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": names})
}
