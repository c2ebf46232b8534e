package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/clients"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"

	"go.uber.org/zap"
)

const (
	PlacesAPIName        = "google_places"
	DefaultCacheDuration = 7 * 24 * time.Hour

	dailyCostKeyPrefix = "places:cost:"
	dailyCostKeyTTL    = 48 * time.Hour
)

// Unit prices in USD per call, charged whether or not the call succeeded.
var OperationCosts = map[models.Operation]float64{
	models.OperationTextSearch:   0.032,
	models.OperationPlaceDetails: 0.017,
	models.OperationPlacePhoto:   0.007,
}

type SearchOptions struct {
	// EntityID, when set, receives the snapshot as a side effect.
	EntityID   string
	RegionCode string
}

type DetailsOptions struct {
	EntityID    string
	BypassCache bool
}

type PlacesService interface {
	GetCachedSnapshot(ctx context.Context, entityID string) (*models.PlaceSnapshot, error)
	SearchByText(ctx context.Context, query string, opts SearchOptions) (*models.PlaceSnapshot, error)
	GetDetails(ctx context.Context, placeID string, opts DetailsOptions) (*models.PlaceSnapshot, error)
	ResolvePhotoURL(ctx context.Context, photoRef string, maxWidth int) (string, error)
	CostSince(ctx context.Context, since time.Time) (*CostReport, error)
	CacheDuration() time.Duration
}

type PlacesConfig struct {
	CacheDuration time.Duration
}

type CostReport struct {
	Since     time.Time              `json:"since"`
	TotalCost float64                `json:"total_cost"`
	Calls     int64                  `json:"calls"`
	Failures  int64                  `json:"failures"`
	TodayCost float64                `json:"today_cost"`
	Breakdown []models.CostBreakdown `json:"breakdown"`
}

type placesService struct {
	client         clients.PlacesClient
	restaurantRepo repository.RestaurantRepository
	usageRepo      repository.UsageLogRepository
	cacheRepo      repository.CacheRepository
	cacheDuration  time.Duration
	logger         *zap.SugaredLogger
	now            func() time.Time
}

func NewPlacesService(
	client clients.PlacesClient,
	restaurantRepo repository.RestaurantRepository,
	usageRepo repository.UsageLogRepository,
	cacheRepo repository.CacheRepository,
	config PlacesConfig,
	logger *zap.SugaredLogger,
) PlacesService {
	if config.CacheDuration <= 0 {
		config.CacheDuration = DefaultCacheDuration
	}
	return &placesService{
		client:         client,
		restaurantRepo: restaurantRepo,
		usageRepo:      usageRepo,
		cacheRepo:      cacheRepo,
		cacheDuration:  config.CacheDuration,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *placesService) CacheDuration() time.Duration {
	return s.cacheDuration
}

func (s *placesService) GetCachedSnapshot(ctx context.Context, entityID string) (*models.PlaceSnapshot, error) {
	restaurant, err := s.restaurantRepo.GetByID(ctx, entityID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load restaurant %s: %w", entityID, err)
	}

	record, err := restaurant.CacheRecord()
	if err != nil {
		s.logger.Warnw("ignoring unreadable cached snapshot", "entity_id", entityID, "error", err)
		return nil, nil
	}
	if !record.Valid(s.now(), s.cacheDuration) {
		return nil, nil
	}
	return record.Snapshot, nil
}

func (s *placesService) SearchByText(ctx context.Context, query string, opts SearchOptions) (*models.PlaceSnapshot, error) {
	started := time.Now()
	snap, err := s.client.SearchText(ctx, clients.TextSearchRequest{
		Query:      query,
		RegionCode: opts.RegionCode,
	})
	s.track(ctx, models.OperationTextSearch, opts.EntityID, started, err)
	if err != nil {
		s.logger.Errorw("places text search failed", "query", query, "error", err)
		return nil, fmt.Errorf("search places %q: %w", query, err)
	}
	if snap == nil {
		return nil, nil
	}

	if opts.EntityID != "" {
		s.persist(ctx, opts.EntityID, snap)
	}
	return snap, nil
}

func (s *placesService) GetDetails(ctx context.Context, placeID string, opts DetailsOptions) (*models.PlaceSnapshot, error) {
	if opts.EntityID != "" && !opts.BypassCache {
		cached, err := s.GetCachedSnapshot(ctx, opts.EntityID)
		if err != nil {
			s.logger.Warnw("cache lookup failed, fetching from provider", "entity_id", opts.EntityID, "error", err)
		} else if cached != nil && (placeID == "" || cached.PlaceID == placeID) {
			return cached, nil
		}
	}

	started := time.Now()
	snap, err := s.client.GetPlace(ctx, placeID)
	s.track(ctx, models.OperationPlaceDetails, opts.EntityID, started, err)
	if err != nil {
		s.logger.Errorw("place details failed", "place_id", placeID, "error", err)
		return nil, fmt.Errorf("get place %s: %w", placeID, err)
	}

	if opts.EntityID != "" {
		s.persist(ctx, opts.EntityID, snap)
	}
	return snap, nil
}

// ResolvePhotoURL returns "" with a nil error when the provider redirected
// somewhere other than the image CDN.
func (s *placesService) ResolvePhotoURL(ctx context.Context, photoRef string, maxWidth int) (string, error) {
	started := time.Now()
	photoURL, err := s.client.ResolvePhoto(ctx, photoRef, maxWidth)
	s.track(ctx, models.OperationPlacePhoto, "", started, err)

	if errors.Is(err, clients.ErrNonCDNURL) {
		s.logger.Warnw("photo did not resolve to the image CDN", "photo_ref", photoRef, "error", err)
		return "", nil
	}
	if err != nil {
		s.logger.Errorw("photo resolution failed", "photo_ref", photoRef, "error", err)
		return "", fmt.Errorf("resolve photo: %w", err)
	}
	return photoURL, nil
}

func (s *placesService) CostSince(ctx context.Context, since time.Time) (*CostReport, error) {
	breakdown, err := s.usageRepo.CostBreakdownSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load cost breakdown: %w", err)
	}

	report := &CostReport{Since: since, Breakdown: breakdown}
	for _, row := range breakdown {
		report.TotalCost += row.Cost
		report.Calls += row.Calls
		report.Failures += row.Failures
	}

	if s.cacheRepo != nil {
		today, err := s.cacheRepo.GetFloat(ctx, s.dailyCostKey())
		if err != nil {
			s.logger.Warnw("failed to read daily cost counter", "error", err)
		}
		report.TodayCost = today
	}
	return report, nil
}

func (s *placesService) persist(ctx context.Context, entityID string, snap *models.PlaceSnapshot) {
	if err := s.restaurantRepo.SaveSnapshot(ctx, entityID, snap, s.now()); err != nil {
		s.logger.Errorw("failed to store place snapshot", "entity_id", entityID, "place_id", snap.PlaceID, "error", err)
	}
}

// track records one call attempt. Usage logging never fails the call it describes.
// Calls that never reached the provider are not billed.
func (s *placesService) track(ctx context.Context, op models.Operation, entityID string, started time.Time, callErr error) {
	if errors.Is(callErr, clients.ErrNotSent) {
		s.logger.Debugw("provider call not sent, skipping usage log", "operation", op, "error", callErr)
		return
	}

	cost := OperationCosts[op]
	entry := &models.APIUsageLog{
		APIName:   PlacesAPIName,
		Operation: op,
		EntityID:  entityID,
		Success:   callErr == nil,
		LatencyMs: time.Since(started).Milliseconds(),
		Cost:      cost,
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}

	if err := s.usageRepo.Create(ctx, entry); err != nil {
		s.logger.Warnw("failed to record API usage", "operation", op, "error", err)
	}

	if s.cacheRepo != nil {
		if _, err := s.cacheRepo.IncrementFloat(ctx, s.dailyCostKey(), cost, dailyCostKeyTTL); err != nil {
			s.logger.Warnw("failed to bump daily cost counter", "operation", op, "error", err)
		}
	}
}

func (s *placesService) dailyCostKey() string {
	return dailyCostKeyPrefix + s.now().UTC().Format("2006-01-02")
}
