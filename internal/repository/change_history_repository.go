package repository

import (
	"context"
	"errors"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"

	"gorm.io/gorm"
)

type ChangeHistoryRepository interface {
	Create(ctx context.Context, entry *models.ChangeHistory) error
	MarkLatestVerified(ctx context.Context, entityType models.EntityType, entityID, field, reason string, at time.Time) error
	ListSince(ctx context.Context, since time.Time) ([]models.ChangeHistory, error)
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID string, limit int) ([]models.ChangeHistory, error)
}

type changeHistoryRepository struct {
	db *gorm.DB
}

func NewChangeHistoryRepository(db *gorm.DB) ChangeHistoryRepository {
	return &changeHistoryRepository{db: db}
}

func (r *changeHistoryRepository) Create(ctx context.Context, entry *models.ChangeHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *changeHistoryRepository) MarkLatestVerified(ctx context.Context, entityType models.EntityType, entityID, field, reason string, at time.Time) error {
	var latest models.ChangeHistory
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND field_name = ?", entityType, entityID, field).
		Order("detected_at DESC").
		First(&latest).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Model(&models.ChangeHistory{}).
		Where("id = ?", latest.ID).
		Updates(map[string]interface{}{
			"verified":            true,
			"verified_at":         at,
			"verification_reason": reason,
		}).
		Error
}

func (r *changeHistoryRepository) ListSince(ctx context.Context, since time.Time) ([]models.ChangeHistory, error) {
	var entries []models.ChangeHistory
	err := r.db.WithContext(ctx).
		Where("detected_at >= ?", since).
		Order("detected_at DESC").
		Find(&entries).
		Error
	return entries, err
}

func (r *changeHistoryRepository) ListByEntity(ctx context.Context, entityType models.EntityType, entityID string, limit int) ([]models.ChangeHistory, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}

	var entries []models.ChangeHistory
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("detected_at DESC").
		Limit(limit).
		Find(&entries).
		Error
	return entries, err
}
