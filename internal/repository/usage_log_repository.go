package repository

import (
	"context"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"

	"gorm.io/gorm"
)

type UsageLogRepository interface {
	Create(ctx context.Context, entry *models.APIUsageLog) error
	CostBreakdownSince(ctx context.Context, since time.Time) ([]models.CostBreakdown, error)
}

type usageLogRepository struct {
	db *gorm.DB
}

func NewUsageLogRepository(db *gorm.DB) UsageLogRepository {
	return &usageLogRepository{db: db}
}

func (r *usageLogRepository) Create(ctx context.Context, entry *models.APIUsageLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *usageLogRepository) CostBreakdownSince(ctx context.Context, since time.Time) ([]models.CostBreakdown, error) {
	var rows []models.CostBreakdown
	err := r.db.WithContext(ctx).
		Model(&models.APIUsageLog{}).
		Select("api_name, operation, COUNT(*) AS calls, " +
			"SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures, " +
			"COALESCE(SUM(cost), 0) AS cost").
		Where("created_at >= ?", since).
		Group("api_name, operation").
		Order("cost DESC").
		Scan(&rows).
		Error
	return rows, err
}
