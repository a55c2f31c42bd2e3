package message

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type MessageRepo interface {
	// InsertBatch inserts rows with ON CONFLICT DO NOTHING on
	// (message_id, chat_id) and reports how many were new vs. duplicates.
	InsertBatch(dbc dbctx.Context, rows []*models.Message) (inserted int64, skipped int64, err error)
	// MaxMessageID returns the highest numeric message_id seen for a chat,
	// used as the incremental fetch offset. Zero when the chat is empty.
	MaxMessageID(dbc dbctx.Context, chatID string) (int64, error)
	// ListUnchunked returns a chat's messages newer than the last_chunked_at
	// watermark, ordered by timestamp then message_id ascending.
	ListUnchunked(dbc dbctx.Context, chatID string, afterTimestamp int64) ([]*models.Message, error)
	// ListFrom returns a chat's messages with timestamp >= fromTimestamp, in
	// the same order as ListUnchunked. Used to reload a chunk window from its
	// first message.
	ListFrom(dbc dbctx.Context, chatID string, fromTimestamp int64) ([]*models.Message, error)
	DeleteByChat(dbc dbctx.Context, chatID string) (int64, error)
	Count(dbc dbctx.Context) (int64, error)
	// CountUnchunked counts messages newer than their chat's watermark,
	// across all chats.
	CountUnchunked(dbc dbctx.Context) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) InsertBatch(dbc dbctx.Context, rows []*models.Message) (int64, int64, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 500)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	inserted := res.RowsAffected
	skipped := int64(len(rows)) - inserted
	return inserted, skipped, nil
}

func (r *messageRepo) MaxMessageID(dbc dbctx.Context, chatID string) (int64, error) {
	if chatID == "" {
		return 0, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var maxID int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Message{}).
		Select("COALESCE(MAX(CAST(message_id AS INTEGER)), 0)").
		Where("chat_id = ?", chatID).
		Scan(&maxID).Error; err != nil {
		return 0, err
	}
	return maxID, nil
}

func (r *messageRepo) ListUnchunked(dbc dbctx.Context, chatID string, afterTimestamp int64) ([]*models.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*models.Message
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Message{}).
		Where("chat_id = ? AND timestamp > ?", chatID, afterTimestamp).
		Order("timestamp ASC, message_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) ListFrom(dbc dbctx.Context, chatID string, fromTimestamp int64) ([]*models.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*models.Message
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Message{}).
		Where("chat_id = ? AND timestamp >= ?", chatID, fromTimestamp).
		Order("timestamp ASC, message_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) DeleteByChat(dbc dbctx.Context, chatID string) (int64, error) {
	if chatID == "" {
		return 0, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).Where("chat_id = ?", chatID).Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func (r *messageRepo) Count(dbc dbctx.Context) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).Model(&models.Message{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *messageRepo) CountUnchunked(dbc dbctx.Context) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	err := txx.WithContext(dbc.Ctx).
		Model(&models.Message{}).
		Joins("JOIN chats ON chats.chat_id = messages.chat_id").
		Where("messages.timestamp > chats.last_chunked_at").
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}
