package db

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/utils"
)

type SqliteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSqliteService(log *logger.Logger) (*SqliteService, error) {
	serviceLog := log.With("service", "SqliteService")

	path := utils.GetEnv("LIFEQUERY_DB_PATH", "lifequery.db", log)
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	log.Info("Connecting to SQLite...", "path", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Error("Failed to open SQLite database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One writer, many readers. SQLite serializes writes anyway; keeping a
	// single connection for writes avoids SQLITE_BUSY churn under WAL.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return &SqliteService{db: gdb, log: serviceLog}, nil
}

func (s *SqliteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	err := s.db.AutoMigrate(
		&models.Message{},
		&models.Chunk{},
		&models.Chat{},
		&models.ConfigEntry{},
		&models.SyncLog{},
		&models.Provider{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for sqlite tables", "error", err)
		return err
	}
	s.log.Info("Sqlite tables migrated")
	return nil
}

// SeedProviders inserts the default provider profiles if missing.
func (s *SqliteService) SeedProviders() error {
	now := time.Now().Unix()
	defaults := []models.Provider{
		{ID: "ollama", Name: "Ollama (Local)", ProviderType: "ollama", BaseURL: "http://localhost:11434", UpdatedAt: now},
		{ID: "openai", Name: "OpenAI", ProviderType: "openai", BaseURL: "https://api.openai.com/v1", UpdatedAt: now},
		{ID: "openrouter", Name: "OpenRouter", ProviderType: "openrouter", BaseURL: "https://openrouter.ai/api/v1", UpdatedAt: now},
		{ID: "minimax", Name: "MiniMax", ProviderType: "minimax", BaseURL: "https://api.minimax.io/v1", UpdatedAt: now},
		{ID: "glmai", Name: "GLM (Z.AI)", ProviderType: "glmai", BaseURL: "https://api.z.ai/api/coding/paas/v4", UpdatedAt: now},
	}
	for _, p := range defaults {
		var count int64
		if err := s.db.Model(&models.Provider{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check provider %s: %w", p.ID, err)
		}
		if count == 0 {
			if err := s.db.Create(&p).Error; err != nil {
				return fmt.Errorf("failed to seed provider %s: %w", p.ID, err)
			}
		}
	}
	return nil
}

func (s *SqliteService) GetDB() *gorm.DB { return s.db }

func (s *SqliteService) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (s *SqliteService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
