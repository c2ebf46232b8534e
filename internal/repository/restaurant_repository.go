package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RestaurantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Restaurant, error)
	SaveSnapshot(ctx context.Context, id string, snap *models.PlaceSnapshot, fetchedAt time.Time) error
	UpdateHeroImage(ctx context.Context, id, imageURL string) error
	UpdateFieldsIfVersion(ctx context.Context, id string, version int, fields map[string]interface{}) error
	ListDueForSync(ctx context.Context, syncedBefore time.Time, limit int) ([]models.Restaurant, error)
	Count(ctx context.Context) (int64, error)
}

type restaurantRepository struct {
	db *gorm.DB
}

func NewRestaurantRepository(db *gorm.DB) RestaurantRepository {
	return &restaurantRepository{db: db}
}

func (r *restaurantRepository) GetByID(ctx context.Context, id string) (*models.Restaurant, error) {
	var restaurant models.Restaurant
	err := r.db.WithContext(ctx).First(&restaurant, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &restaurant, nil
}

func (r *restaurantRepository) SaveSnapshot(ctx context.Context, id string, snap *models.PlaceSnapshot, fetchedAt time.Time) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	updates := map[string]interface{}{
		"google_data":            datatypes.JSON(payload),
		"google_data_fetched_at": fetchedAt,
		"last_google_sync_at":    fetchedAt,
		"google_place_id":        snap.PlaceID,
		"version":                gorm.Expr("version + 1"),
	}
	if snap.MapsURI != "" {
		updates["google_maps_uri"] = snap.MapsURI
	}
	if snap.Rating != nil {
		updates["google_rating"] = *snap.Rating
	}
	if snap.RatingCount != nil {
		updates["google_review_count"] = *snap.RatingCount
	}

	return r.update(r.db.WithContext(ctx).Model(&models.Restaurant{}).Where("id = ?", id), updates, ErrNotFound)
}

func (r *restaurantRepository) UpdateHeroImage(ctx context.Context, id, imageURL string) error {
	updates := map[string]interface{}{
		"hero_image": imageURL,
		"version":    gorm.Expr("version + 1"),
	}
	return r.update(r.db.WithContext(ctx).Model(&models.Restaurant{}).Where("id = ?", id), updates, ErrNotFound)
}

func (r *restaurantRepository) UpdateFieldsIfVersion(ctx context.Context, id string, version int, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = gorm.Expr("version + 1")

	query := r.db.WithContext(ctx).
		Model(&models.Restaurant{}).
		Where("id = ? AND version = ?", id, version)
	return r.update(query, updates, ErrVersionConflict)
}

func (r *restaurantRepository) update(query *gorm.DB, updates map[string]interface{}, missing error) error {
	res := query.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return missing
	}
	return nil
}

func (r *restaurantRepository) ListDueForSync(ctx context.Context, syncedBefore time.Time, limit int) ([]models.Restaurant, error) {
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	var restaurants []models.Restaurant
	err := r.db.WithContext(ctx).
		Where("is_permanently_closed = ?", false).
		Where("last_google_sync_at IS NULL OR last_google_sync_at < ?", syncedBefore).
		Order("last_google_sync_at ASC NULLS FIRST").
		Limit(limit).
		Find(&restaurants).
		Error
	return restaurants, err
}

func (r *restaurantRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Restaurant{}).
		Count(&count).
		Error
	return count, err
}
