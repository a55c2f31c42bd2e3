package chat

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type ChatRepo interface {
	List(dbc dbctx.Context) ([]*models.Chat, error)
	Get(dbc dbctx.Context, chatID string) (*models.Chat, error)
	// Merge upserts a chat row: inserts with defaults when new, otherwise
	// refreshes the name/type, accumulates message_count and keeps the max
	// last_message_at.
	Merge(dbc dbctx.Context, chatID, chatName, chatType string, addedMessages int64, lastMessageAt int64) error
	SetIncluded(dbc dbctx.Context, chatID string, included bool) error
	Rename(dbc dbctx.Context, chatID, chatName string) error
	SetLastChunkedAt(dbc dbctx.Context, chatID string, ts int64) error
	Delete(dbc dbctx.Context, chatID string) error
	// IncludedChatIDs returns the inclusion mask for retrieval and sync.
	IncludedChatIDs(dbc dbctx.Context) ([]string, error)
	Count(dbc dbctx.Context) (int64, error)
	CountIncluded(dbc dbctx.Context) (int64, error)
}

type chatRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatRepo(db *gorm.DB, log *logger.Logger) ChatRepo {
	return &chatRepo{db: db, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) List(dbc dbctx.Context) ([]*models.Chat, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*models.Chat
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Chat{}).
		Order("last_message_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) Get(dbc dbctx.Context, chatID string) (*models.Chat, error) {
	if chatID == "" {
		return nil, fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row models.Chat
	if err := txx.WithContext(dbc.Ctx).Where("chat_id = ?", chatID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *chatRepo) Merge(dbc dbctx.Context, chatID, chatName, chatType string, addedMessages int64, lastMessageAt int64) error {
	if chatID == "" {
		return fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var existing models.Chat
	err := txx.WithContext(dbc.Ctx).Where("chat_id = ?", chatID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		row := models.Chat{
			ChatID:        chatID,
			ChatName:      chatName,
			ChatType:      chatType,
			Included:      true,
			MessageCount:  addedMessages,
			LastMessageAt: lastMessageAt,
			CreatedAt:     time.Now().Unix(),
		}
		if row.ChatType == "" {
			row.ChatType = "private"
		}
		return txx.WithContext(dbc.Ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"message_count": gorm.Expr("message_count + ?", addedMessages),
	}
	if chatName != "" {
		updates["chat_name"] = chatName
	}
	if chatType != "" {
		updates["chat_type"] = chatType
	}
	if lastMessageAt > existing.LastMessageAt {
		updates["last_message_at"] = lastMessageAt
	}
	return txx.WithContext(dbc.Ctx).
		Model(&models.Chat{}).
		Where("chat_id = ?", chatID).
		Updates(updates).Error
}

func (r *chatRepo) SetIncluded(dbc dbctx.Context, chatID string, included bool) error {
	return r.update(dbc, chatID, map[string]interface{}{"included": included})
}

func (r *chatRepo) Rename(dbc dbctx.Context, chatID, chatName string) error {
	if chatName == "" {
		return fmt.Errorf("missing chat_name")
	}
	return r.update(dbc, chatID, map[string]interface{}{"chat_name": chatName})
}

func (r *chatRepo) SetLastChunkedAt(dbc dbctx.Context, chatID string, ts int64) error {
	return r.update(dbc, chatID, map[string]interface{}{"last_chunked_at": ts})
}

func (r *chatRepo) update(dbc dbctx.Context, chatID string, updates map[string]interface{}) error {
	if chatID == "" {
		return fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Model(&models.Chat{}).
		Where("chat_id = ?", chatID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *chatRepo) Delete(dbc dbctx.Context, chatID string) error {
	if chatID == "" {
		return fmt.Errorf("missing chat_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).Where("chat_id = ?", chatID).Delete(&models.Chat{}).Error
}

func (r *chatRepo) IncludedChatIDs(dbc dbctx.Context) ([]string, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []string
	err := txx.WithContext(dbc.Ctx).
		Model(&models.Chat{}).
		Where("included = ?", true).
		Pluck("chat_id", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatRepo) Count(dbc dbctx.Context) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).Model(&models.Chat{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *chatRepo) CountIncluded(dbc dbctx.Context) (int64, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Chat{}).
		Where("included = ?", true).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
