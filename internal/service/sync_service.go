package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/cache"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/notify"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"

	"go.uber.org/zap"
)

// ClosureSentinel marks a permanent closure in a sync change list.
const ClosureSentinel = "STATUS: CLOSED PERMANENTLY"

const (
	DefaultBatchSize      = 10
	DefaultBatchDelay     = 2 * time.Second
	DefaultSyncConfidence = 0.9
	DefaultPhotoMaxWidth  = 1200
	DefaultLockTTL        = 2 * time.Minute
)

// Failure messages callers may branch on.
const (
	MsgRestaurantNotFound = "restaurant not found"
	MsgSyncInProgress     = "sync already in progress"
)

type SyncOptions struct {
	ForceRefresh bool
	FetchPhoto   bool
	// RegionHint overrides the configured hint appended to search queries.
	RegionHint string
}

type SyncResult struct {
	EntityID  string         `json:"entity_id"`
	Success   bool           `json:"success"`
	Refreshed bool           `json:"refreshed"`
	Changes   []string       `json:"changes"`
	Closed    bool           `json:"closed"`
	PhotoURL  string         `json:"photo_url,omitempty"`
	Detection *ProcessResult `json:"detection,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type BatchProgress struct {
	Done   int
	Total  int
	Result SyncResult
}

type BatchOptions struct {
	BatchSize  int
	Delay      time.Duration
	Sync       SyncOptions
	OnProgress func(BatchProgress)
}

type BatchResult struct {
	Total    int                   `json:"total"`
	Synced   int                   `json:"synced"`
	Failed   int                   `json:"failed"`
	Closures []string              `json:"closures"`
	Errors   []notify.FailedEntity `json:"errors"`
	Duration time.Duration         `json:"duration"`
}

// Summary converts the batch outcome into the notification payload.
func (r BatchResult) Summary() notify.SyncSummary {
	return notify.SyncSummary{
		Total:    r.Total,
		Synced:   r.Synced,
		Failed:   r.Failed,
		Closures: r.Closures,
		Failures: r.Errors,
		Duration: r.Duration,
	}
}

// ChangeProcessor is the part of the change detector a sync pass feeds.
type ChangeProcessor interface {
	DiffRestaurant(old, new *models.Restaurant, source string, confidence float64) []models.DetectedChange
	ProcessChanges(ctx context.Context, changes []models.DetectedChange) ProcessResult
}

type SyncConfig struct {
	CacheDuration time.Duration
	RegionHint    string
	CDNHost       string
	BatchSize     int
	BatchDelay    time.Duration
	Confidence    float64
	PhotoMaxWidth int
	LockTTL       time.Duration
}

type SyncService interface {
	SyncEntity(ctx context.Context, id, name, contextName string, opts SyncOptions) SyncResult
	BatchSync(ctx context.Context, targets []models.SyncTarget, opts BatchOptions) BatchResult
}

type syncService struct {
	places         PlacesService
	restaurantRepo repository.RestaurantRepository
	detector       ChangeProcessor
	locker         cache.EntityLocker
	notifier       notify.Notifier
	config         SyncConfig
	logger         *zap.SugaredLogger
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

type SyncServiceOption func(*syncService)

func WithChangeProcessor(detector ChangeProcessor) SyncServiceOption {
	return func(s *syncService) { s.detector = detector }
}

func WithEntityLocker(locker cache.EntityLocker) SyncServiceOption {
	return func(s *syncService) { s.locker = locker }
}

func WithNotifier(notifier notify.Notifier) SyncServiceOption {
	return func(s *syncService) { s.notifier = notifier }
}

func NewSyncService(
	places PlacesService,
	restaurantRepo repository.RestaurantRepository,
	config SyncConfig,
	logger *zap.SugaredLogger,
	opts ...SyncServiceOption,
) SyncService {
	if config.CacheDuration <= 0 {
		config.CacheDuration = places.CacheDuration()
	}
	if config.CDNHost == "" {
		config.CDNHost = "googleusercontent.com"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchDelay <= 0 {
		config.BatchDelay = DefaultBatchDelay
	}
	if config.Confidence <= 0 {
		config.Confidence = DefaultSyncConfidence
	}
	if config.PhotoMaxWidth <= 0 {
		config.PhotoMaxWidth = DefaultPhotoMaxWidth
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	s := &syncService{
		places:         places,
		restaurantRepo: restaurantRepo,
		config:         config,
		logger:         logger,
		now:            time.Now,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncEntity refreshes one restaurant from the places provider. Every
// failure is reported in the result.
func (s *syncService) SyncEntity(ctx context.Context, id, name, contextName string, opts SyncOptions) SyncResult {
	result := SyncResult{EntityID: id, Changes: []string{}}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "restaurant:"+id, s.config.LockTTL)
		switch {
		case errors.Is(err, cache.ErrLockHeld):
			result.Error = MsgSyncInProgress
			return result
		case err != nil:
			s.logger.Warnw("entity lock unavailable, syncing without it", "entity_id", id, "error", err)
		default:
			defer func() {
				if err := release(context.Background()); err != nil {
					s.logger.Warnw("failed to release entity lock", "entity_id", id, "error", err)
				}
			}()
		}
	}

	restaurant, err := s.restaurantRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		result.Error = MsgRestaurantNotFound
		return result
	}
	if err != nil {
		result.Error = fmt.Sprintf("load restaurant: %v", err)
		return result
	}

	if !s.needsRefresh(restaurant, opts.ForceRefresh) {
		result.Success = true
		result.Message = "no refresh needed"
		return result
	}

	if name == "" {
		name = restaurant.Name
	}
	if contextName == "" {
		contextName = restaurant.MallName
	}
	regionHint := s.config.RegionHint
	if opts.RegionHint != "" {
		regionHint = opts.RegionHint
	}
	query := joinNonEmpty(name, contextName, regionHint)

	previous := previousSnapshot(restaurant)

	snap, err := s.places.SearchByText(ctx, query, SearchOptions{EntityID: id})
	if err != nil {
		s.logger.Errorw("entity sync failed", "entity_id", id, "query", query, "error", err)
		result.Error = err.Error()
		return result
	}
	if snap == nil {
		result.Error = fmt.Sprintf("no place found for %q", query)
		return result
	}

	result.Refreshed = true
	result.Changes = compareSnapshots(previous, snap)
	if snap.IsPermanentlyClosed() {
		result.Closed = true
		result.Changes = append(result.Changes, ClosureSentinel)
		s.raiseClosure(ctx, restaurant, contextName)
	}

	if opts.FetchPhoto && !s.isCDNURL(restaurant.HeroImage) && len(snap.PhotoRefs) > 0 {
		photoURL, err := s.places.ResolvePhotoURL(ctx, snap.PhotoRefs[0], s.config.PhotoMaxWidth)
		switch {
		case err != nil:
			s.logger.Warnw("hero photo not resolved", "entity_id", id, "error", err)
		case photoURL != "":
			if err := s.restaurantRepo.UpdateHeroImage(ctx, id, photoURL); err != nil {
				s.logger.Errorw("failed to store hero photo", "entity_id", id, "error", err)
			} else {
				result.PhotoURL = photoURL
				result.Changes = append(result.Changes, "Hero image updated")
			}
		}
	}

	if s.detector != nil {
		updated := restaurant.WithSnapshot(snap)
		detected := s.detector.DiffRestaurant(restaurant, &updated, PlacesAPIName, s.config.Confidence)
		if len(detected) > 0 {
			processed := s.detector.ProcessChanges(ctx, detected)
			result.Detection = &processed
		}
	}

	result.Success = true
	s.logger.Infow("entity synced", "entity_id", id, "changes", len(result.Changes), "closed", result.Closed)
	return result
}

// BatchSync walks targets in input order, pausing between batches. A
// cancelled context marks the remaining targets failed.
func (s *syncService) BatchSync(ctx context.Context, targets []models.SyncTarget, opts BatchOptions) BatchResult {
	started := s.now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.config.BatchSize
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = s.config.BatchDelay
	}

	result := BatchResult{
		Total:    len(targets),
		Closures: []string{},
		Errors:   []notify.FailedEntity{},
	}

	for i, target := range targets {
		if i > 0 && i%batchSize == 0 {
			if err := s.sleep(ctx, delay); err != nil {
				s.logger.Warnw("batch sync interrupted", "done", i, "total", len(targets), "error", err)
			}
		}

		var entity SyncResult
		if err := ctx.Err(); err != nil {
			entity = SyncResult{EntityID: target.ID, Error: err.Error()}
		} else {
			entity = s.syncSafely(ctx, target, opts.Sync)
		}

		if entity.Success {
			result.Synced++
			if entity.Closed {
				result.Closures = append(result.Closures, target.ID)
			}
		} else {
			result.Failed++
			result.Errors = append(result.Errors, notify.FailedEntity{ID: target.ID, Error: entity.Error})
		}

		if opts.OnProgress != nil {
			opts.OnProgress(BatchProgress{Done: i + 1, Total: len(targets), Result: entity})
		}
	}

	result.Duration = s.now().Sub(started)
	s.logger.Infow("batch sync finished",
		"total", result.Total,
		"synced", result.Synced,
		"failed", result.Failed,
		"closures", len(result.Closures),
		"duration", result.Duration,
	)
	return result
}

// syncSafely keeps one misbehaving entity from taking the batch down.
func (s *syncService) syncSafely(ctx context.Context, target models.SyncTarget, opts SyncOptions) (result SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("entity sync panicked", "entity_id", target.ID, "panic", r)
			result = SyncResult{EntityID: target.ID, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.SyncEntity(ctx, target.ID, target.Name, target.Context, opts)
}

func (s *syncService) needsRefresh(r *models.Restaurant, force bool) bool {
	if force || r.LastGoogleSyncAt == nil {
		return true
	}
	return s.now().Sub(*r.LastGoogleSyncAt) > s.config.CacheDuration
}

func (s *syncService) raiseClosure(ctx context.Context, r *models.Restaurant, contextName string) {
	if s.notifier == nil {
		return
	}
	alert := notify.ClosureAlert{
		EntityID:    r.ID.String(),
		EntityName:  r.Name,
		ContextName: contextName,
		Source:      PlacesAPIName,
		Confidence:  s.config.Confidence,
		DetectedAt:  s.now(),
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.Warnw("closure alert not delivered", "entity_id", alert.EntityID, "error", err)
	}
}

func (s *syncService) isCDNURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == s.config.CDNHost || strings.HasSuffix(host, "."+s.config.CDNHost)
}

// previousSnapshot prefers the stored provider snapshot and falls back to
// the restaurant's own columns for records that were never fetched.
func previousSnapshot(r *models.Restaurant) *models.PlaceSnapshot {
	if record, err := r.CacheRecord(); err == nil && record != nil {
		return record.Snapshot
	}

	snap := &models.PlaceSnapshot{
		Rating:      r.GoogleRating,
		RatingCount: r.GoogleReviewCount,
	}
	switch {
	case r.IsPermanentlyClosed:
		snap.BusinessStatus = models.BusinessStatusClosedPermanently
	case r.IsTemporarilyClosed:
		snap.BusinessStatus = models.BusinessStatusClosedTemporarily
	}
	if hours := r.OpeningHoursList(); hours != nil {
		snap.OpeningHours = &models.OpeningHours{WeekdayDescriptions: hours}
	}
	return snap
}

func compareSnapshots(old, new *models.PlaceSnapshot) []string {
	changes := []string{}
	if ValuesDiffer(old.Rating, new.Rating, DiffOptions{}) {
		changes = append(changes, fmt.Sprintf("Rating: %s -> %s", formatRating(old.Rating), formatRating(new.Rating)))
	}
	if old.BusinessStatus != new.BusinessStatus && new.BusinessStatus != "" {
		changes = append(changes, fmt.Sprintf("Business status: %s -> %s", statusLabel(old.BusinessStatus), new.BusinessStatus))
	}
	if ValuesDiffer(old.WeekdayDescriptions(), new.WeekdayDescriptions(), DiffOptions{Trim: true}) {
		changes = append(changes, "Opening hours updated")
	}
	return changes
}

func formatRating(r *float64) string {
	if r == nil {
		return "none"
	}
	return strconv.FormatFloat(*r, 'f', -1, 64)
}

func statusLabel(s models.BusinessStatus) string {
	if s == "" {
		return "UNKNOWN"
	}
	return string(s)
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
