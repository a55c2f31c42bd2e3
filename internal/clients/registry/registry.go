package registry

import (
	"context"
	"sync"

	"github.com/lifequery/backend/internal/clients/embedding"
	"github.com/lifequery/backend/internal/clients/llm"
	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/settings"
)

// Registry builds and caches the provider-facing clients. Settings changes
// invalidate the cache through the key check: a client is reused only while
// its URL and model match the current snapshot.
type Registry struct {
	providers repos.ProviderRepo
	log       *logger.Logger

	mu       sync.Mutex
	embedder embedding.Client
	embedKey string
}

func New(providers repos.ProviderRepo, log *logger.Logger) *Registry {
	return &Registry{providers: providers, log: log.With("service", "ClientRegistry")}
}

// Embedder returns the embedding client for the snapshot, rebuilding it when
// the Ollama URL or embedding model changed.
func (r *Registry) Embedder(snap settings.Snapshot) (embedding.Client, error) {
	key := snap.OllamaURL + "|" + snap.EmbeddingModel
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.embedder != nil && r.embedKey == key {
		return r.embedder, nil
	}
	cli, err := embedding.NewClient(snap.OllamaURL, snap.EmbeddingModel, r.log)
	if err != nil {
		return nil, err
	}
	r.embedder = cli
	r.embedKey = key
	return cli, nil
}

// Chat builds the chat client for the snapshot's active provider. Chat
// clients are cheap stateless HTTP wrappers, so they are built per call
// rather than cached.
func (r *Registry) Chat(ctx context.Context, snap settings.Snapshot) (llm.Client, error) {
	profile := r.profile(ctx, snap.ChatProvider)
	return llm.New(snap, profile, r.log)
}

func (r *Registry) profile(ctx context.Context, providerID string) *models.Provider {
	if providerID == "" {
		return nil
	}
	profile, err := r.providers.Get(dbctx.Context{Ctx: ctx}, providerID)
	if err != nil {
		r.log.Warn("Failed to load provider profile", "provider", providerID, "error", err)
		return nil
	}
	return profile
}
