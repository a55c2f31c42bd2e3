package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/handlers"
	"github.com/lifequery/backend/internal/middleware"
)

type RouterConfig struct {
	HealthHandler   *handlers.HealthHandler
	SettingsHandler *handlers.SettingsHandler
	ModelsHandler   *handlers.ModelsHandler
	ChatsHandler    *handlers.ChatsHandler
	StatsHandler    *handlers.StatsHandler
	IngestHandler   *handlers.IngestHandler
	ChatHandler     *handlers.ChatHandler
	TelegramHandler *handlers.TelegramHandler
	OpenAIHandler   *handlers.OpenAIHandler
	APIKey          *middleware.APIKeyMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Single-user engine on localhost; the browser UI may be served from
	// any port, so origins stay open.
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Requested-With"},
	}))

	api := router.Group("/api")
	api.Use(cfg.APIKey.RequireKey())
	{
		api.GET("/health", cfg.HealthHandler.Health)

		api.GET("/settings", cfg.SettingsHandler.Get)
		api.POST("/settings", cfg.SettingsHandler.Update)
		api.GET("/providers", cfg.SettingsHandler.Providers)
		api.GET("/models", cfg.ModelsHandler.List)

		api.GET("/chats", cfg.ChatsHandler.List)
		api.POST("/chats/sync", cfg.ChatsHandler.Sync)
		api.PUT("/chats/:id", cfg.ChatsHandler.Update)
		api.DELETE("/chats/:id", cfg.ChatsHandler.Delete)

		api.GET("/stats", cfg.StatsHandler.Stats)
		api.GET("/pending-stats", cfg.StatsHandler.Pending)

		api.POST("/sync", cfg.IngestHandler.Sync)
		api.POST("/process", cfg.IngestHandler.Process)
		api.POST("/import", cfg.IngestHandler.ImportUpload)
		api.POST("/import/path", cfg.IngestHandler.ImportPath)
		api.GET("/import/scanned", cfg.IngestHandler.ImportScan)
		api.POST("/reindex", cfg.IngestHandler.Reindex)
		api.POST("/sync/cancel", cfg.IngestHandler.Cancel)
		api.GET("/sync/status", cfg.IngestHandler.Status)
		api.GET("/sync/logs", cfg.IngestHandler.Logs)

		api.POST("/chat", cfg.ChatHandler.Stream)

		api.GET("/telegram/status", cfg.TelegramHandler.Status)
		api.POST("/telegram/auth/start", cfg.TelegramHandler.AuthStart)
		api.POST("/telegram/auth/verify", cfg.TelegramHandler.AuthVerify)
		api.POST("/telegram/disconnect", cfg.TelegramHandler.Disconnect)
	}

	v1 := router.Group("/v1")
	v1.Use(cfg.APIKey.RequireKey())
	{
		v1.GET("/models", cfg.OpenAIHandler.Models)
		v1.POST("/chat/completions", cfg.OpenAIHandler.ChatCompletions)
		v1.POST("/completions", cfg.OpenAIHandler.Completions)
	}

	return router
}
