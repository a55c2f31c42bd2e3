package chunk

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type ChunkRepo interface {
	// CreateIgnoreDuplicates inserts chunks, skipping rows whose chunk_id
	// already exists, and returns how many were actually created.
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*models.Chunk) (int64, error)
	// ListPending returns chunks with no embedded_at, oldest first.
	ListPending(dbc dbctx.Context, limit int) ([]*models.Chunk, error)
	// ListAll returns every chunk, oldest window first. Reindex feeds
	// these to the embedder.
	ListAll(dbc dbctx.Context) ([]*models.Chunk, error)
	// LastByChat returns the chat's newest chunk by window end, nil when
	// the chat has none.
	LastByChat(dbc dbctx.Context, chatID string) (*models.Chunk, error)
	MarkEmbedded(dbc dbctx.Context, chunkIDs []string, embeddingVersion string) error
	// MarkAllEmbedded stamps every chunk at once, for rebuilds that
	// re-embed the whole set before committing.
	MarkAllEmbedded(dbc dbctx.Context, embeddingVersion string) error
	// DistinctEmbeddingVersions lists the versions present on embedded chunks.
	DistinctEmbeddingVersions(dbc dbctx.Context) ([]string, error)
	// ClearEmbedded resets embedded_at on every chunk so they re-embed.
	ClearEmbedded(dbc dbctx.Context) error
	// DeleteSuperseded removes the chat's chunks whose window starts at or
	// after fromTs, except those listed in keep. Returns the deleted
	// chunk ids so the caller can evict their vectors.
	DeleteSuperseded(dbc dbctx.Context, chatID string, fromTs int64, keep []string) ([]string, error)
	// DeleteByChat removes a chat's chunks and returns their ids so the
	// caller can evict their vectors.
	DeleteByChat(dbc dbctx.Context, chatID string) ([]string, error)
	Count(dbc dbctx.Context) (int64, error)
	CountEmbedded(dbc dbctx.Context) (int64, error)
	CountPending(dbc dbctx.Context) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, log *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: log.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*models.Chunk) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().Unix()
	for _, c := range rows {
		if c.CreatedAt == 0 {
			c.CreatedAt = now
		}
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 200)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *chunkRepo) ListPending(dbc dbctx.Context, limit int) ([]*models.Chunk, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("embedded_at IS NULL").
		Order("timestamp_start ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*models.Chunk
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListAll(dbc dbctx.Context) ([]*models.Chunk, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*models.Chunk
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Order("timestamp_start ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) LastByChat(dbc dbctx.Context, chatID string) (*models.Chunk, error) {
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row models.Chunk
	err := txx.WithContext(dbc.Ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp_end DESC, timestamp_start DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chunkRepo) MarkEmbedded(dbc dbctx.Context, chunkIDs []string, embeddingVersion string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().Unix()
	return txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("chunk_id IN ?", chunkIDs).
		Updates(map[string]interface{}{
			"embedded_at":       now,
			"embedding_version": embeddingVersion,
		}).Error
}

func (r *chunkRepo) MarkAllEmbedded(dbc dbctx.Context, embeddingVersion string) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().Unix()
	return txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"embedded_at":       now,
			"embedding_version": embeddingVersion,
		}).Error
}

func (r *chunkRepo) DistinctEmbeddingVersions(dbc dbctx.Context) ([]string, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []string
	err := txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("embedded_at IS NOT NULL AND embedding_version <> ''").
		Distinct("embedding_version").
		Pluck("embedding_version", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ClearEmbedded(dbc dbctx.Context) error {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("1 = 1").
		Updates(map[string]interface{}{"embedded_at": nil, "embedding_version": ""}).Error
}

func (r *chunkRepo) DeleteSuperseded(dbc dbctx.Context, chatID string, fromTs int64, keep []string) ([]string, error) {
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("chat_id = ? AND timestamp_start >= ?", chatID, fromTs)
	if len(keep) > 0 {
		q = q.Where("chunk_id NOT IN ?", keep)
	}
	var ids []string
	if err := q.Pluck("chunk_id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := txx.WithContext(dbc.Ctx).
		Where("chunk_id IN ?", ids).
		Delete(&models.Chunk{}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *chunkRepo) DeleteByChat(dbc dbctx.Context, chatID string) ([]string, error) {
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var ids []string
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Chunk{}).
		Where("chat_id = ?", chatID).
		Pluck("chunk_id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := txx.WithContext(dbc.Ctx).
		Where("chat_id = ?", chatID).
		Delete(&models.Chunk{}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *chunkRepo) Count(dbc dbctx.Context) (int64, error) {
	return r.countWhere(dbc, "")
}

func (r *chunkRepo) CountEmbedded(dbc dbctx.Context) (int64, error) {
	return r.countWhere(dbc, "embedded_at IS NOT NULL")
}

func (r *chunkRepo) CountPending(dbc dbctx.Context) (int64, error) {
	return r.countWhere(dbc, "embedded_at IS NULL")
}

func (r *chunkRepo) countWhere(dbc dbctx.Context, cond string) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	q := txx.WithContext(dbc.Ctx).Model(&models.Chunk{})
	if cond != "" {
		q = q.Where(cond)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
