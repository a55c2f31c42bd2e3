package repos

import (
	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/repos/chat"
	"github.com/lifequery/backend/internal/data/repos/chunk"
	"github.com/lifequery/backend/internal/data/repos/message"
	"github.com/lifequery/backend/internal/data/repos/provider"
	"github.com/lifequery/backend/internal/data/repos/synclog"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type MessageRepo = message.MessageRepo
type ChunkRepo = chunk.ChunkRepo
type ChatRepo = chat.ChatRepo
type SyncLogRepo = synclog.SyncLogRepo
type ProviderRepo = provider.ProviderRepo

type RunCounts = synclog.RunCounts

// Repos bundles every repository over the shared gorm DB.
type Repos struct {
	Message  MessageRepo
	Chunk    ChunkRepo
	Chat     ChatRepo
	SyncLog  SyncLogRepo
	Provider ProviderRepo
}

func New(db *gorm.DB, log *logger.Logger) *Repos {
	return &Repos{
		Message:  message.NewMessageRepo(db, log),
		Chunk:    chunk.NewChunkRepo(db, log),
		Chat:     chat.NewChatRepo(db, log),
		SyncLog:  synclog.NewSyncLogRepo(db, log),
		Provider: provider.NewProviderRepo(db, log),
	}
}
