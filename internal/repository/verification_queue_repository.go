package repository

import (
	"context"
	"errors"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VerificationQueueRepository interface {
	Create(ctx context.Context, item *models.VerificationQueueItem) error
	UpsertPending(ctx context.Context, item *models.VerificationQueueItem) (created bool, err error)
	ListPending(ctx context.Context, limit int) ([]models.VerificationQueueItem, error)
}

type verificationQueueRepository struct {
	db *gorm.DB
}

func NewVerificationQueueRepository(db *gorm.DB) VerificationQueueRepository {
	return &verificationQueueRepository{db: db}
}

func (r *verificationQueueRepository) Create(ctx context.Context, item *models.VerificationQueueItem) error {
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	return r.db.WithContext(ctx).Create(item).Error
}

// UpsertPending keeps at most one pending item per entity field. An existing
// pending item takes the new value, history link and scoring; its old value
// and creation time are kept. item is filled with the stored row's id.
func (r *verificationQueueRepository) UpsertPending(ctx context.Context, item *models.VerificationQueueItem) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.VerificationQueueItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("entity_type = ? AND entity_id = ? AND field_name = ? AND status = ?",
				item.EntityType, item.EntityID, item.FieldName, models.QueueStatusPending).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			item.Status = models.QueueStatusPending
			created = true
			return tx.Create(item).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"new_value":   item.NewValue,
			"change_type": item.ChangeType,
			"source":      item.Source,
			"confidence":  item.Confidence,
			"metadata":    item.Metadata,
			"priority":    item.Priority,
		}
		if item.HistoryID != nil {
			updates["history_id"] = *item.HistoryID
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}

		item.ID = existing.ID
		item.OldValue = existing.OldValue
		item.Status = existing.Status
		item.CreatedAt = existing.CreatedAt
		return nil
	})
	return created, err
}

// ListPending returns pending items, most urgent first. A non-positive limit
// returns all of them.
func (r *verificationQueueRepository) ListPending(ctx context.Context, limit int) ([]models.VerificationQueueItem, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", models.QueueStatusPending).
		Order("priority ASC, created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var items []models.VerificationQueueItem
	err := query.Find(&items).Error
	return items, err
}
