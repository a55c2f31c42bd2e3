package synclog

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

// Counts carried from a finished ingest run into its log row.
type RunCounts struct {
	MessagesAdded    int64
	ChunksCreated    int64
	SkippedDuplicate int64
	SkippedEmpty     int64
}

type SyncLogRepo interface {
	Start(dbc dbctx.Context, operation string) (*models.SyncLog, error)
	Finish(dbc dbctx.Context, id int64, status string, counts RunCounts, detail string) error
	ListRecent(dbc dbctx.Context, limit int) ([]*models.SyncLog, error)
	// LastSuccess returns the most recent successful run, or nil.
	LastSuccess(dbc dbctx.Context) (*models.SyncLog, error)
}

type syncLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSyncLogRepo(db *gorm.DB, log *logger.Logger) SyncLogRepo {
	return &syncLogRepo{db: db, log: log.With("repo", "SyncLogRepo")}
}

func (r *syncLogRepo) Start(dbc dbctx.Context, operation string) (*models.SyncLog, error) {
	if operation == "" {
		return nil, fmt.Errorf("missing operation")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	row := &models.SyncLog{
		Operation: operation,
		StartedAt: time.Now().Unix(),
		Status:    models.SyncStatusRunning,
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *syncLogRepo) Finish(dbc dbctx.Context, id int64, status string, counts RunCounts, detail string) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().Unix()
	return txx.WithContext(dbc.Ctx).
		Model(&models.SyncLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"finished_at":       now,
			"status":            status,
			"messages_added":    counts.MessagesAdded,
			"chunks_created":    counts.ChunksCreated,
			"skipped_duplicate": counts.SkippedDuplicate,
			"skipped_empty":     counts.SkippedEmpty,
			"detail":            detail,
		}).Error
}

func (r *syncLogRepo) ListRecent(dbc dbctx.Context, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*models.SyncLog
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.SyncLog{}).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *syncLogRepo) LastSuccess(dbc dbctx.Context) (*models.SyncLog, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row models.SyncLog
	err := txx.WithContext(dbc.Ctx).
		Where("status = ?", models.SyncStatusSuccess).
		Order("started_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
