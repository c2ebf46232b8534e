// Package mocks holds in-memory stand-ins for the repositories and external
// collaborators, for use in tests.
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"
)

// RestaurantRepository is a mock implementation of repository.RestaurantRepository.
type RestaurantRepository struct {
	mu          sync.Mutex
	Restaurants map[string]*models.Restaurant

	GetErr    error
	SaveErr   error
	UpdateErr error
	// Conflicts makes the next N version-checked updates fail with a conflict.
	Conflicts int

	SaveCalls   int
	UpdateCalls int
}

func NewRestaurantRepository(restaurants ...*models.Restaurant) *RestaurantRepository {
	m := &RestaurantRepository{Restaurants: make(map[string]*models.Restaurant)}
	for _, r := range restaurants {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.Version == 0 {
			r.Version = 1
		}
		m.Restaurants[r.ID.String()] = r
	}
	return m
}

func (m *RestaurantRepository) Get(id string) *models.Restaurant {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Restaurants[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (m *RestaurantRepository) GetByID(_ context.Context, id string) (*models.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	r, ok := m.Restaurants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *RestaurantRepository) SaveSnapshot(_ context.Context, id string, snap *models.PlaceSnapshot, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	r, ok := m.Restaurants[id]
	if !ok {
		return repository.ErrNotFound
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	at := fetchedAt
	r.GoogleData = raw
	r.GoogleDataFetchedAt = &at
	r.LastGoogleSyncAt = &at
	r.GooglePlaceID = snap.PlaceID
	r.GoogleMapsURI = snap.MapsURI
	if snap.Rating != nil {
		rating := *snap.Rating
		r.GoogleRating = &rating
	}
	if snap.RatingCount != nil {
		count := *snap.RatingCount
		r.GoogleReviewCount = &count
	}
	r.Version++
	return nil
}

func (m *RestaurantRepository) UpdateHeroImage(_ context.Context, id, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	r, ok := m.Restaurants[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.HeroImage = imageURL
	r.Version++
	return nil
}

func (m *RestaurantRepository) UpdateFieldsIfVersion(_ context.Context, id string, version int, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCalls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	r, ok := m.Restaurants[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.Conflicts > 0 {
		m.Conflicts--
		r.Version++
		return repository.ErrVersionConflict
	}
	if r.Version != version {
		return repository.ErrVersionConflict
	}

	for column, value := range fields {
		if err := setColumn(r, column, value); err != nil {
			return err
		}
	}
	r.Version++
	return nil
}

func (m *RestaurantRepository) ListDueForSync(_ context.Context, syncedBefore time.Time, limit int) ([]models.Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}

	var due []models.Restaurant
	for _, r := range m.Restaurants {
		if r.IsPermanentlyClosed {
			continue
		}
		if r.LastGoogleSyncAt == nil || r.LastGoogleSyncAt.Before(syncedBefore) {
			due = append(due, *r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *RestaurantRepository) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Restaurants)), nil
}

func setColumn(r *models.Restaurant, column string, value interface{}) error {
	switch column {
	case "name":
		r.Name = value.(string)
	case "address":
		r.Address = value.(string)
	case "phone":
		r.Phone = value.(string)
	case "website":
		r.Website = value.(string)
	case "hero_image":
		r.HeroImage = value.(string)
	case "opening_hours":
		if value == nil {
			r.OpeningHours = nil
		} else {
			r.OpeningHours = value.(datatypes.JSON)
		}
	case "google_rating":
		if value == nil {
			r.GoogleRating = nil
		} else {
			v := value.(float64)
			r.GoogleRating = &v
		}
	case "google_review_count":
		if value == nil {
			r.GoogleReviewCount = nil
		} else {
			v := value.(int)
			r.GoogleReviewCount = &v
		}
	case "is_permanently_closed":
		r.IsPermanentlyClosed = value.(bool)
	case "is_temporarily_closed":
		r.IsTemporarilyClosed = value.(bool)
	default:
		return fmt.Errorf("unknown column %q", column)
	}
	return nil
}

// ChangeHistoryRepository is a mock implementation of repository.ChangeHistoryRepository.
type ChangeHistoryRepository struct {
	mu        sync.Mutex
	Entries   []*models.ChangeHistory
	CreateErr error
	ListErr   error
}

func NewChangeHistoryRepository() *ChangeHistoryRepository {
	return &ChangeHistoryRepository{}
}

func (m *ChangeHistoryRepository) Create(_ context.Context, entry *models.ChangeHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *ChangeHistoryRepository) MarkLatestVerified(_ context.Context, entityType models.EntityType, entityID, field, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.ChangeHistory
	for _, e := range m.Entries {
		if e.EntityType != entityType || e.EntityID != entityID || e.FieldName != field {
			continue
		}
		if latest == nil || !e.DetectedAt.Before(latest.DetectedAt) {
			latest = e
		}
	}
	if latest == nil {
		return repository.ErrNotFound
	}
	verifiedAt := at
	latest.Verified = true
	latest.VerifiedAt = &verifiedAt
	latest.VerificationReason = reason
	return nil
}

func (m *ChangeHistoryRepository) ListSince(_ context.Context, since time.Time) ([]models.ChangeHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []models.ChangeHistory
	for _, e := range m.Entries {
		if !e.DetectedAt.Before(since) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *ChangeHistoryRepository) ListByEntity(_ context.Context, entityType models.EntityType, entityID string, limit int) ([]models.ChangeHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChangeHistory
	for i := len(m.Entries) - 1; i >= 0; i-- {
		e := m.Entries[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, *e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// VerificationQueueRepository is a mock implementation of repository.VerificationQueueRepository.
type VerificationQueueRepository struct {
	mu        sync.Mutex
	Items     []*models.VerificationQueueItem
	CreateErr error
}

func NewVerificationQueueRepository() *VerificationQueueRepository {
	return &VerificationQueueRepository{}
}

func (m *VerificationQueueRepository) Create(_ context.Context, item *models.VerificationQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.Items = append(m.Items, item)
	return nil
}

func (m *VerificationQueueRepository) UpsertPending(ctx context.Context, item *models.VerificationQueueItem) (bool, error) {
	m.mu.Lock()
	if m.CreateErr != nil {
		m.mu.Unlock()
		return false, m.CreateErr
	}
	for _, existing := range m.Items {
		if existing.Status != models.QueueStatusPending || existing.EntityType != item.EntityType ||
			existing.EntityID != item.EntityID || existing.FieldName != item.FieldName {
			continue
		}
		existing.NewValue = item.NewValue
		existing.ChangeType = item.ChangeType
		existing.Source = item.Source
		existing.Confidence = item.Confidence
		existing.Metadata = item.Metadata
		existing.Priority = item.Priority
		if item.HistoryID != nil {
			existing.HistoryID = item.HistoryID
		}
		item.ID = existing.ID
		item.OldValue = existing.OldValue
		item.Status = existing.Status
		item.CreatedAt = existing.CreatedAt
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	item.Status = models.QueueStatusPending
	return true, m.Create(ctx, item)
}

func (m *VerificationQueueRepository) ListPending(_ context.Context, limit int) ([]models.VerificationQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VerificationQueueItem
	for _, item := range m.Items {
		if item.Status == models.QueueStatusPending {
			out = append(out, *item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UsageLogRepository is a mock implementation of repository.UsageLogRepository.
type UsageLogRepository struct {
	mu        sync.Mutex
	Entries   []models.APIUsageLog
	CreateErr error
}

func NewUsageLogRepository() *UsageLogRepository {
	return &UsageLogRepository{}
}

func (m *UsageLogRepository) Create(_ context.Context, entry *models.APIUsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.Entries = append(m.Entries, *entry)
	return nil
}

func (m *UsageLogRepository) CostBreakdownSince(_ context.Context, since time.Time) ([]models.CostBreakdown, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byOp := make(map[models.Operation]*models.CostBreakdown)
	var order []models.Operation
	for _, e := range m.Entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		row, ok := byOp[e.Operation]
		if !ok {
			row = &models.CostBreakdown{APIName: e.APIName, Operation: e.Operation}
			byOp[e.Operation] = row
			order = append(order, e.Operation)
		}
		row.Calls++
		if !e.Success {
			row.Failures++
		}
		row.Cost += e.Cost
	}

	out := make([]models.CostBreakdown, 0, len(order))
	for _, op := range order {
		out = append(out, *byOp[op])
	}
	return out, nil
}

// Successes counts the logged calls for op that succeeded.
func (m *UsageLogRepository) Successes(op models.Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Entries {
		if e.Operation == op && e.Success {
			n++
		}
	}
	return n
}
