package llm

import (
	"strings"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

// DefaultBaseURLs are the fallback endpoints per provider when neither the
// stored profile nor the settings carry one.
var DefaultBaseURLs = map[string]string{
	"ollama":     "http://localhost:11434",
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"minimax":    "https://api.minimax.io/v1",
	"glmai":      "https://api.z.ai/api/coding/paas/v4",
}

// ResolveBaseURL picks the chat endpoint for a provider: explicit URL first,
// then the stored profile, then the provider default. A URL left over from a
// different provider (e.g. an Ollama URL while on OpenRouter) is treated as
// unset.
func ResolveBaseURL(providerID, explicitURL, customChatURL string, profile *models.Provider) string {
	url := strings.TrimSpace(explicitURL)
	if url != "" && !urlBelongsToOther(providerID, url) {
		return url
	}
	if profile != nil && strings.TrimSpace(profile.BaseURL) != "" {
		return profile.BaseURL
	}
	if providerID == "custom" && strings.TrimSpace(customChatURL) != "" {
		return customChatURL
	}
	if def, ok := DefaultBaseURLs[providerID]; ok {
		return def
	}
	return url
}

func urlBelongsToOther(providerID, url string) bool {
	lower := strings.ToLower(url)
	markers := map[string]string{
		"ollama":     "ollama",
		"openrouter": "openrouter",
		"minimax":    "minimax",
		"glmai":      "z.ai",
	}
	for id, marker := range markers {
		if id == providerID {
			continue
		}
		if strings.Contains(lower, marker) {
			return true
		}
	}
	// localhost URLs are Ollama-shaped; treat as foreign for cloud providers.
	if providerID != "ollama" && providerID != "custom" &&
		(strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1")) {
		return true
	}
	return false
}

// ResolveAPIKey picks the key: explicit, then profile, then the legacy
// openrouter key for that provider.
func ResolveAPIKey(providerID string, snap settings.Snapshot, profile *models.Provider) string {
	if k := strings.TrimSpace(snap.ChatAPIKey); k != "" {
		return k
	}
	if profile != nil && strings.TrimSpace(profile.APIKey) != "" {
		return profile.APIKey
	}
	if providerID == "openrouter" {
		return strings.TrimSpace(snap.OpenRouterAPIKey)
	}
	return ""
}

// New builds the chat client for the active provider in the snapshot.
// profile may be nil when the provider has no stored row.
func New(snap settings.Snapshot, profile *models.Provider, log *logger.Logger) (Client, error) {
	providerID := snap.ChatProvider
	if providerID == "" {
		providerID = "ollama"
	}

	if providerID == "ollama" {
		url := snap.ChatURL
		if strings.TrimSpace(url) == "" {
			url = snap.OllamaURL
		}
		if strings.TrimSpace(url) == "" {
			url = DefaultBaseURLs["ollama"]
		}
		return NewOllamaClient(url, log)
	}

	baseURL := ResolveBaseURL(providerID, snap.ChatURL, snap.CustomChatURL, profile)
	apiKey := ResolveAPIKey(providerID, snap, profile)

	var extraBody map[string]any
	if providerID == "openrouter" {
		extraBody = map[string]any{"include_reasoning": true}
	}
	return NewOpenAICompatClient(baseURL, apiKey, extraBody, log)
}
