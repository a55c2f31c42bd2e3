package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/clients/qdrant"
	"github.com/lifequery/backend/internal/clients/registry"
	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/db"
	"github.com/lifequery/backend/internal/handlers"
	"github.com/lifequery/backend/internal/ingest"
	"github.com/lifequery/backend/internal/middleware"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/rag"
	"github.com/lifequery/backend/internal/server"
	"github.com/lifequery/backend/internal/settings"
	"github.com/lifequery/backend/internal/source"
	"github.com/lifequery/backend/internal/tasks"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    *repos.Repos
	Settings *settings.Store
	Vectors  qdrant.VectorStore
	Bridge   source.Bridge
	Ingest   *ingest.Service
	Manager  *tasks.Manager

	scheduler *tasks.Scheduler
	baseCtx   context.Context
	cancel    context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	sqlite, err := db.NewSqliteService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	if err := sqlite.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	if err := sqlite.SeedProviders(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("seed providers: %w", err)
	}
	theDB := sqlite.GetDB()

	reposet := repos.New(theDB, log)

	store, err := settings.NewStore(theDB, reposet.Provider, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init settings: %w", err)
	}

	vectors, err := qdrant.NewVectorStore(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	bridge := source.NewBridge(cfg.BridgeURL, log)
	reg := registry.New(reposet.Provider, log)

	ingestSvc := ingest.NewService(reposet, vectors, store, reg, bridge, log)
	retriever := rag.NewRetriever(reposet.Chat, vectors, log)
	pipeline := rag.NewPipeline(retriever, log)

	ctx, cancel := context.WithCancel(context.Background())
	manager := tasks.NewManager(ctx, log)
	scheduler := tasks.NewScheduler(manager, ingestSvc, store, bridge, log)
	store.OnChange(func(keys []string) {
		for _, key := range keys {
			if key == settings.KeyAutoSyncInterval {
				scheduler.Wake()
				return
			}
		}
	})

	apiKeyMW := middleware.NewAPIKeyMiddleware(store, log)
	router := server.NewRouter(server.RouterConfig{
		HealthHandler:   handlers.NewHealthHandler(reposet, bridge, log),
		SettingsHandler: handlers.NewSettingsHandler(store, reposet.Provider, log),
		ModelsHandler:   handlers.NewModelsHandler(store, reposet.Provider, log),
		ChatsHandler:    handlers.NewChatsHandler(reposet, ingestSvc, log),
		StatsHandler:    handlers.NewStatsHandler(reposet, vectors, log),
		IngestHandler:   handlers.NewIngestHandler(ingestSvc, manager, reposet, cfg.ImportDir, log),
		ChatHandler:     handlers.NewChatHandler(pipeline, reg, store, log),
		TelegramHandler: handlers.NewTelegramHandler(bridge, log),
		OpenAIHandler:   handlers.NewOpenAIHandler(pipeline, reg, store, log),
		APIKey:          apiKeyMW,
	})

	return &App{
		Log:       log,
		DB:        theDB,
		Router:    router,
		Cfg:       cfg,
		Repos:     reposet,
		Settings:  store,
		Vectors:   vectors,
		Bridge:    bridge,
		Ingest:    ingestSvc,
		Manager:   manager,
		scheduler: scheduler,
		baseCtx:   ctx,
		cancel:    cancel,
	}, nil
}

// Start launches the background pieces: stale temp-collection cleanup from
// interrupted reindexes, then the auto-sync scheduler.
func (a *App) Start() {
	if err := a.Vectors.CleanupStaleTemp(a.baseCtx); err != nil {
		a.Log.Warn("Stale temp collection cleanup failed", "error", err)
	}
	go a.scheduler.Run(a.baseCtx)
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
