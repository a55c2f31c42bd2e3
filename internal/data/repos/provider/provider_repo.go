package provider

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lifequery/backend/internal/data/models"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type ProviderRepo interface {
	List(dbc dbctx.Context) ([]*models.Provider, error)
	Get(dbc dbctx.Context, id string) (*models.Provider, error)
	// SaveProfile writes base_url/api_key/last_model onto a profile,
	// creating it for custom provider ids. Empty fields keep existing
	// values.
	SaveProfile(dbc dbctx.Context, id, baseURL, apiKey, lastModel string) error
}

type providerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProviderRepo(db *gorm.DB, log *logger.Logger) ProviderRepo {
	return &providerRepo{db: db, log: log.With("repo", "ProviderRepo")}
}

func (r *providerRepo) List(dbc dbctx.Context) ([]*models.Provider, error) {
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*models.Provider
	if err := txx.WithContext(dbc.Ctx).
		Model(&models.Provider{}).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *providerRepo) Get(dbc dbctx.Context, id string) (*models.Provider, error) {
	if id == "" {
		return nil, fmt.Errorf("missing provider id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var row models.Provider
	err := txx.WithContext(dbc.Ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *providerRepo) SaveProfile(dbc dbctx.Context, id, baseURL, apiKey, lastModel string) error {
	if id == "" {
		return fmt.Errorf("missing provider id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().Unix()

	var existing models.Provider
	err := txx.WithContext(dbc.Ctx).Where("id = ?", id).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		row := models.Provider{
			ID:           id,
			Name:         id,
			ProviderType: id,
			BaseURL:      baseURL,
			APIKey:       apiKey,
			LastModel:    lastModel,
			UpdatedAt:    now,
		}
		return txx.WithContext(dbc.Ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{"updated_at": now}
	if baseURL != "" {
		updates["base_url"] = baseURL
	}
	if apiKey != "" {
		updates["api_key"] = apiKey
	}
	if lastModel != "" {
		updates["last_model"] = lastModel
	}
	return txx.WithContext(dbc.Ctx).
		Model(&models.Provider{}).
		Where("id = ?", id).
		Updates(updates).Error
}
