package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

type SettingsHandler struct {
	store     *settings.Store
	providers repos.ProviderRepo
	log       *logger.Logger
}

func NewSettingsHandler(store *settings.Store, providers repos.ProviderRepo, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, providers: providers, log: log.With("handler", "SettingsHandler")}
}

// Get returns every setting with sensitive values masked.
func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Masked())
}

// Update accepts a flat key/value map. Masked sentinels and unknown keys
// are dropped inside the store.
func (h *SettingsHandler) Update(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid JSON body"))
		return
	}
	updates := make(map[string]string, len(body))
	for k, v := range body {
		if v == nil {
			continue
		}
		updates[k] = fmt.Sprintf("%v", v)
	}
	if err := h.store.Update(dbctx.Context{Ctx: c.Request.Context()}, updates); err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Masked())
}

// Providers lists the stored provider profiles, API keys masked.
func (h *SettingsHandler) Providers(c *gin.Context) {
	rows, err := h.providers.List(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, p := range rows {
		out = append(out, gin.H{
			"id":            p.ID,
			"name":          p.Name,
			"provider_type": p.ProviderType,
			"base_url":      p.BaseURL,
			"api_key":       settings.MaskValue(p.APIKey),
			"last_model":    p.LastModel,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}
