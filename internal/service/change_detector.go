package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	DefaultAutoApplyThreshold     = 0.85
	DefaultLowConfidenceThreshold = 0.50

	AutoApplyReason = "auto-applied (high confidence)"

	maxApplyAttempts = 2

	verificationStatsKey = "placesync:verification:stats"
	DefaultStatsCacheTTL = 5 * time.Minute
)

// ErrStaleChange means the stored value no longer matches the value the
// change was computed against.
var ErrStaleChange = errors.New("stored value changed since detection")

var errNotApplicable = errors.New("entity type is not auto-applied")

// Tracked restaurant fields, in the order changes are reported.
var RestaurantTrackedFields = []string{
	"name",
	"address",
	"phone",
	"opening_hours",
	"google_rating",
	"google_review_count",
	"is_permanently_closed",
	"is_temporarily_closed",
	"website",
	"hero_image",
}

type DiffOptions struct {
	Trim            bool
	CaseInsensitive bool
}

type ProcessResult struct {
	AutoApplied   []string                `json:"auto_applied"`
	Queued        int                     `json:"queued"`
	Critical      []models.DetectedChange `json:"critical"`
	LowConfidence []models.DetectedChange `json:"low_confidence"`
	Logged        int                     `json:"logged"`
}

type VerificationStats struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Normal   int `json:"normal"`
}

type ChangesSummary struct {
	Since    time.Time                 `json:"since"`
	Total    int                       `json:"total"`
	ByType   map[models.ChangeType]int `json:"by_type"`
	BySource map[string]int            `json:"by_source"`
	Closures int                       `json:"closures"`
}

type DetectorConfig struct {
	AutoApplyThreshold     float64
	LowConfidenceThreshold float64
}

type ChangeDetector interface {
	DiffRestaurant(old, new *models.Restaurant, source string, confidence float64) []models.DetectedChange
	DiffMenu(entityType models.EntityType, entityID, entitySlug string, oldItems, newItems []models.MenuItem, source string, confidence float64) []models.DetectedChange
	ProcessChanges(ctx context.Context, changes []models.DetectedChange) ProcessResult
	AutoApply(ctx context.Context, change models.DetectedChange) bool
	PendingVerificationStats(ctx context.Context) (*VerificationStats, error)
	RecentChangesSummary(ctx context.Context, window time.Duration) (*ChangesSummary, error)
}

type changeDetector struct {
	restaurantRepo repository.RestaurantRepository
	historyRepo    repository.ChangeHistoryRepository
	queueRepo      repository.VerificationQueueRepository
	config         DetectorConfig
	logger         *zap.SugaredLogger
	now            func() time.Time

	statsCache    repository.CacheRepository
	statsCacheTTL time.Duration
}

type DetectorOption func(*changeDetector)

// WithStatsCache serves PendingVerificationStats from Redis for ttl. Queueing
// a change drops the cached value.
func WithStatsCache(cache repository.CacheRepository, ttl time.Duration) DetectorOption {
	return func(d *changeDetector) {
		if ttl <= 0 {
			ttl = DefaultStatsCacheTTL
		}
		d.statsCache = cache
		d.statsCacheTTL = ttl
	}
}

func NewChangeDetector(
	restaurantRepo repository.RestaurantRepository,
	historyRepo repository.ChangeHistoryRepository,
	queueRepo repository.VerificationQueueRepository,
	config DetectorConfig,
	logger *zap.SugaredLogger,
	opts ...DetectorOption,
) ChangeDetector {
	if config.AutoApplyThreshold <= 0 {
		config.AutoApplyThreshold = DefaultAutoApplyThreshold
	}
	if config.LowConfidenceThreshold <= 0 {
		config.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	d := &changeDetector{
		restaurantRepo: restaurantRepo,
		historyRepo:    historyRepo,
		queueRepo:      queueRepo,
		config:         config,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ValuesDiffer reports whether two field values differ. Two nils never
// differ; a nil and a non-nil always do. Strings honour opts, anything else
// is compared by its JSON encoding.
func ValuesDiffer(old, new interface{}, opts DiffOptions) bool {
	oldNil, newNil := isNil(old), isNil(new)
	if oldNil && newNil {
		return false
	}
	if oldNil != newNil {
		return true
	}

	oldStr, oldIsStr := deref(old).(string)
	newStr, newIsStr := deref(new).(string)
	if oldIsStr && newIsStr {
		if opts.Trim {
			oldStr, newStr = strings.TrimSpace(oldStr), strings.TrimSpace(newStr)
		}
		if opts.CaseInsensitive {
			return !strings.EqualFold(oldStr, newStr)
		}
		return oldStr != newStr
	}

	oldJSON, errOld := json.Marshal(old)
	newJSON, errNew := json.Marshal(new)
	if errOld != nil || errNew != nil {
		return !reflect.DeepEqual(old, new)
	}
	return string(oldJSON) != string(newJSON)
}

// ClassifyChange maps a field to its change type. A permanent-closure flag
// turning true is a closure whatever else the mapping says.
func ClassifyChange(field string, newValue interface{}) models.ChangeType {
	if field == "is_permanently_closed" {
		if isTrue(newValue) {
			return models.ChangeClosure
		}
		return models.ChangeOther
	}

	switch field {
	case "is_temporarily_closed":
		return models.ChangeTemporaryClosure
	case "opening_hours", "hours":
		return models.ChangeHours
	case "address":
		return models.ChangeAddress
	case "phone", "phone_number":
		return models.ChangePhone
	case "name", "display_name":
		return models.ChangeName
	case "price":
		return models.ChangePrice
	case "menu", "menu_item", "menu_category", "category", "description":
		return models.ChangeMenu
	case "promotion", "promotions":
		return models.ChangeNewPromotion
	case "hero_image", "image", "image_url":
		return models.ChangeImage
	default:
		return models.ChangeOther
	}
}

func (d *changeDetector) DiffRestaurant(old, new *models.Restaurant, source string, confidence float64) []models.DetectedChange {
	if old == nil || new == nil {
		return nil
	}

	oldFields, newFields := restaurantFieldValues(old), restaurantFieldValues(new)
	var changes []models.DetectedChange
	for _, field := range RestaurantTrackedFields {
		oldValue, newValue := oldFields[field], newFields[field]
		if !ValuesDiffer(oldValue, newValue, DiffOptions{Trim: true}) {
			continue
		}
		changes = append(changes, models.DetectedChange{
			EntityType: models.EntityRestaurant,
			EntityID:   old.ID.String(),
			EntitySlug: old.Slug,
			EntityName: old.Name,
			FieldName:  field,
			OldValue:   serializeValue(oldValue),
			NewValue:   serializeValue(newValue),
			ChangeType: ClassifyChange(field, newValue),
			Source:     source,
			Confidence: confidence,
		})
	}
	return changes
}

// DiffMenu joins items by name, so a renamed item shows up as one removal
// plus one addition.
func (d *changeDetector) DiffMenu(entityType models.EntityType, entityID, entitySlug string, oldItems, newItems []models.MenuItem, source string, confidence float64) []models.DetectedChange {
	oldByName := make(map[string]models.MenuItem, len(oldItems))
	for _, item := range oldItems {
		oldByName[item.Name] = item
	}
	newByName := make(map[string]models.MenuItem, len(newItems))
	for _, item := range newItems {
		newByName[item.Name] = item
	}

	base := models.DetectedChange{
		EntityType: entityType,
		EntityID:   entityID,
		EntitySlug: entitySlug,
		Source:     source,
		Confidence: confidence,
	}

	var changes []models.DetectedChange
	for _, item := range newItems {
		prev, existed := oldByName[item.Name]
		if !existed {
			change := base
			change.FieldName = "menu_item"
			change.NewValue = serializeValue(item.Name)
			change.ChangeType = models.ChangeMenu
			change.Metadata = map[string]any{"action": "added", "item_name": item.Name, "price": item.Price, "category": item.Category}
			changes = append(changes, change)
			continue
		}
		if ValuesDiffer(prev.Price, item.Price, DiffOptions{}) {
			change := base
			change.FieldName = "price"
			change.OldValue = serializeValue(prev.Price)
			change.NewValue = serializeValue(item.Price)
			change.ChangeType = models.ChangePrice
			change.Metadata = map[string]any{"item_name": item.Name}
			changes = append(changes, change)
		}
	}

	for _, item := range oldItems {
		if _, kept := newByName[item.Name]; kept {
			continue
		}
		change := base
		change.FieldName = "menu_item"
		change.OldValue = serializeValue(item.Name)
		change.ChangeType = models.ChangeMenu
		change.Metadata = map[string]any{"action": "removed", "item_name": item.Name}
		changes = append(changes, change)
	}
	return changes
}

func (d *changeDetector) ProcessChanges(ctx context.Context, changes []models.DetectedChange) ProcessResult {
	result := ProcessResult{
		AutoApplied:   []string{},
		Critical:      []models.DetectedChange{},
		LowConfidence: []models.DetectedChange{},
	}

	for _, change := range changes {
		history := d.logHistory(ctx, change)
		if history != nil {
			result.Logged++
		}

		switch {
		case change.ChangeType.Critical():
			if d.enqueue(ctx, change, history) {
				result.Queued++
			}
			result.Critical = append(result.Critical, change)

		case change.Confidence < d.config.LowConfidenceThreshold:
			if d.enqueue(ctx, change, history) {
				result.Queued++
			}
			result.LowConfidence = append(result.LowConfidence, change)

		case change.Confidence >= d.config.AutoApplyThreshold:
			err := d.apply(ctx, change)
			switch {
			case err == nil:
				result.AutoApplied = append(result.AutoApplied, change.FieldName)
			case errors.Is(err, ErrStaleChange):
				if d.enqueue(ctx, change, history) {
					result.Queued++
				}
			}

		default:
			if d.enqueue(ctx, change, history) {
				result.Queued++
			}
		}
	}

	d.logger.Infow("processed detected changes",
		"total", len(changes),
		"auto_applied", len(result.AutoApplied),
		"queued", result.Queued,
		"critical", len(result.Critical),
		"low_confidence", len(result.LowConfidence),
	)
	return result
}

// AutoApply writes the change to the stored restaurant. It reports false
// instead of failing; only restaurant changes are applied.
func (d *changeDetector) AutoApply(ctx context.Context, change models.DetectedChange) bool {
	return d.apply(ctx, change) == nil
}

// apply writes change.NewValue only while the stored column still holds
// change.OldValue. A stored value that already equals NewValue counts as
// applied.
func (d *changeDetector) apply(ctx context.Context, change models.DetectedChange) error {
	if change.EntityType != models.EntityRestaurant {
		return errNotApplicable
	}

	column, value, err := parseRestaurantValue(change.FieldName, change.NewValue)
	if err != nil {
		d.logger.Warnw("cannot auto-apply change", "entity_id", change.EntityID, "field", change.FieldName, "error", err)
		return err
	}

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		restaurant, err := d.restaurantRepo.GetByID(ctx, change.EntityID)
		if err != nil {
			d.logger.Warnw("auto-apply lookup failed", "entity_id", change.EntityID, "error", err)
			return err
		}

		current := serializeValue(restaurantFieldValues(restaurant)[change.FieldName])
		switch {
		case !ValuesDiffer(current, change.NewValue, DiffOptions{Trim: true}):
			d.markApplied(ctx, change)
			return nil
		case ValuesDiffer(current, change.OldValue, DiffOptions{Trim: true}):
			d.logger.Infow("stored value changed since detection, queueing instead",
				"entity_id", change.EntityID, "field", change.FieldName)
			return ErrStaleChange
		}

		err = d.restaurantRepo.UpdateFieldsIfVersion(ctx, change.EntityID, restaurant.Version, map[string]interface{}{column: value})
		if errors.Is(err, repository.ErrVersionConflict) {
			d.logger.Infow("restaurant changed during auto-apply, retrying", "entity_id", change.EntityID, "field", change.FieldName, "attempt", attempt)
			continue
		}
		if err != nil {
			d.logger.Errorw("auto-apply write failed", "entity_id", change.EntityID, "field", change.FieldName, "error", err)
			return err
		}

		d.markApplied(ctx, change)
		return nil
	}

	d.logger.Warnw("gave up auto-apply after concurrent updates", "entity_id", change.EntityID, "field", change.FieldName)
	return repository.ErrVersionConflict
}

func (d *changeDetector) markApplied(ctx context.Context, change models.DetectedChange) {
	if err := d.historyRepo.MarkLatestVerified(ctx, change.EntityType, change.EntityID, change.FieldName, AutoApplyReason, d.now()); err != nil {
		d.logger.Warnw("failed to mark change verified", "entity_id", change.EntityID, "field", change.FieldName, "error", err)
	}
}

func (d *changeDetector) PendingVerificationStats(ctx context.Context) (*VerificationStats, error) {
	if d.statsCache != nil {
		var cached *VerificationStats
		if err := d.statsCache.GetJSON(ctx, verificationStatsKey, &cached); err != nil {
			d.logger.Warnw("failed to read cached verification stats", "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	items, err := d.queueRepo.ListPending(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list pending verifications: %w", err)
	}

	stats := &VerificationStats{Total: len(items)}
	for _, item := range items {
		switch {
		case item.Priority <= 2:
			stats.Critical++
		case item.Priority <= 4:
			stats.High++
		default:
			stats.Normal++
		}
	}

	if d.statsCache != nil {
		if err := d.statsCache.SetJSON(ctx, verificationStatsKey, stats, d.statsCacheTTL); err != nil {
			d.logger.Warnw("failed to cache verification stats", "error", err)
		}
	}
	return stats, nil
}

func (d *changeDetector) RecentChangesSummary(ctx context.Context, window time.Duration) (*ChangesSummary, error) {
	since := d.now().Add(-window)
	entries, err := d.historyRepo.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list changes since %s: %w", since.Format(time.RFC3339), err)
	}

	summary := &ChangesSummary{
		Since:    since,
		Total:    len(entries),
		ByType:   make(map[models.ChangeType]int),
		BySource: make(map[string]int),
	}
	for _, entry := range entries {
		summary.ByType[entry.ChangeType]++
		summary.BySource[entry.Source]++
		if entry.ChangeType == models.ChangeClosure {
			summary.Closures++
		}
	}
	return summary, nil
}

func (d *changeDetector) logHistory(ctx context.Context, change models.DetectedChange) *models.ChangeHistory {
	entry := &models.ChangeHistory{
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		EntitySlug: change.EntitySlug,
		EntityName: change.EntityName,
		FieldName:  change.FieldName,
		OldValue:   change.OldValue,
		NewValue:   change.NewValue,
		ChangeType: change.ChangeType,
		Source:     change.Source,
		Confidence: change.Confidence,
		Metadata:   encodeMetadata(change.Metadata),
		DetectedAt: d.now(),
	}
	if err := d.historyRepo.Create(ctx, entry); err != nil {
		d.logger.Warnw("failed to record change history", "entity_id", change.EntityID, "field", change.FieldName, "error", err)
		return nil
	}
	return entry
}

func (d *changeDetector) enqueue(ctx context.Context, change models.DetectedChange, history *models.ChangeHistory) bool {
	item := &models.VerificationQueueItem{
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		EntitySlug: change.EntitySlug,
		EntityName: change.EntityName,
		FieldName:  change.FieldName,
		OldValue:   change.OldValue,
		NewValue:   change.NewValue,
		ChangeType: change.ChangeType,
		Source:     change.Source,
		Confidence: change.Confidence,
		Metadata:   encodeMetadata(change.Metadata),
		Priority:   change.ChangeType.Priority(),
		Status:     models.QueueStatusPending,
	}
	if history != nil {
		id := history.ID
		item.HistoryID = &id
	}

	created, err := d.queueRepo.UpsertPending(ctx, item)
	if err != nil {
		d.logger.Errorw("failed to queue change for review", "entity_id", change.EntityID, "field", change.FieldName, "error", err)
		return false
	}
	if !created {
		d.logger.Debugw("refreshed pending review", "entity_id", change.EntityID, "field", change.FieldName, "queue_id", item.ID)
	}
	if d.statsCache != nil {
		if err := d.statsCache.Delete(ctx, verificationStatsKey); err != nil {
			d.logger.Warnw("failed to drop cached verification stats", "error", err)
		}
	}
	return true
}

func restaurantFieldValues(r *models.Restaurant) map[string]interface{} {
	fields := map[string]interface{}{
		"name":                  nullableString(r.Name),
		"address":               nullableString(r.Address),
		"phone":                 nullableString(r.Phone),
		"google_rating":         r.GoogleRating,
		"google_review_count":   r.GoogleReviewCount,
		"is_permanently_closed": r.IsPermanentlyClosed,
		"is_temporarily_closed": r.IsTemporarilyClosed,
		"website":               nullableString(r.Website),
		"hero_image":            nullableString(r.HeroImage),
	}
	if hours := r.OpeningHoursList(); hours != nil {
		fields["opening_hours"] = hours
	} else {
		fields["opening_hours"] = nil
	}
	return fields
}

// parseRestaurantValue turns a serialized change value back into what the
// column stores.
func parseRestaurantValue(field string, raw *string) (string, interface{}, error) {
	switch field {
	case "is_permanently_closed", "is_temporarily_closed":
		if raw == nil {
			return "", nil, fmt.Errorf("%s cannot be null", field)
		}
		v, err := strconv.ParseBool(strings.TrimSpace(*raw))
		if err != nil {
			return "", nil, fmt.Errorf("parse %s: %w", field, err)
		}
		return field, v, nil

	case "google_rating", "google_review_count":
		if raw == nil {
			return field, nil, nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
		if err != nil {
			return "", nil, fmt.Errorf("parse %s: %w", field, err)
		}
		if field == "google_review_count" {
			return field, int(v), nil
		}
		return field, v, nil

	case "opening_hours":
		if raw == nil {
			return field, nil, nil
		}
		var hours []string
		if err := json.Unmarshal([]byte(*raw), &hours); err != nil {
			return "", nil, fmt.Errorf("parse opening_hours: %w", err)
		}
		encoded, err := json.Marshal(hours)
		if err != nil {
			return "", nil, err
		}
		return field, datatypes.JSON(encoded), nil

	case "name", "address", "phone", "website", "hero_image":
		if raw == nil {
			return field, "", nil
		}
		return field, *raw, nil

	default:
		return "", nil, fmt.Errorf("field %q is not tracked", field)
	}
}

func serializeValue(v interface{}) *string {
	if isNil(v) {
		return nil
	}
	if s, ok := deref(v).(string); ok {
		return &s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s := fmt.Sprint(deref(v))
		return &s
	}
	s := string(raw)
	return &s
}

func encodeMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return raw
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func isTrue(v interface{}) bool {
	switch t := deref(v).(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	default:
		return false
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func deref(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
