package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/mocks"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

type detectorFixture struct {
	restaurants *mocks.RestaurantRepository
	history     *mocks.ChangeHistoryRepository
	queue       *mocks.VerificationQueueRepository
	detector    *changeDetector
}

func newDetectorFixture(restaurants ...*models.Restaurant) *detectorFixture {
	f := &detectorFixture{
		restaurants: mocks.NewRestaurantRepository(restaurants...),
		history:     mocks.NewChangeHistoryRepository(),
		queue:       mocks.NewVerificationQueueRepository(),
	}
	d := NewChangeDetector(f.restaurants, f.history, f.queue, DetectorConfig{}, zap.NewNop().Sugar()).(*changeDetector)
	d.now = func() time.Time { return fixedNow }
	f.detector = d
	return f
}

func strPtr(s string) *string { return &s }

func sampleRestaurant() *models.Restaurant {
	hours, _ := json.Marshal([]string{"Monday: 10:00 AM – 10:00 PM", "Tuesday: 10:00 AM – 10:00 PM"})
	return &models.Restaurant{
		ID:                uuid.New(),
		Slug:              "tim-ho-wan-plaza-sing",
		Name:              "Tim Ho Wan",
		MallName:          "Plaza Singapura",
		Address:           "68 Orchard Rd, #01-29A",
		Phone:             "+65 6251 2000",
		Website:           "https://timhowan.com",
		OpeningHours:      hours,
		HeroImage:         "https://lh3.googleusercontent.com/p/abc",
		GoogleRating:      floatPtr(4.1),
		GoogleReviewCount: intPtr(1520),
		Version:           1,
	}
}

func TestValuesDiffer(t *testing.T) {
	tests := []struct {
		name string
		old  interface{}
		new  interface{}
		opts DiffOptions
		want bool
	}{
		{"both nil", nil, nil, DiffOptions{}, false},
		{"typed nil pointers", (*float64)(nil), (*float64)(nil), DiffOptions{}, false},
		{"old nil", nil, "x", DiffOptions{}, true},
		{"new nil", "x", nil, DiffOptions{}, true},
		{"same string", "abc", "abc", DiffOptions{}, false},
		{"whitespace without trim", "abc ", "abc", DiffOptions{}, true},
		{"whitespace with trim", " abc ", "abc", DiffOptions{Trim: true}, false},
		{"case sensitive", "ABC", "abc", DiffOptions{}, true},
		{"case insensitive", "ABC", "abc", DiffOptions{CaseInsensitive: true}, false},
		{"equal numbers", 4.5, 4.5, DiffOptions{}, false},
		{"different numbers", 4.5, 4.6, DiffOptions{}, true},
		{"number pointers", floatPtr(4.5), floatPtr(4.5), DiffOptions{}, false},
		{"equal arrays", []string{"a", "b"}, []string{"a", "b"}, DiffOptions{}, false},
		{"reordered arrays", []string{"a", "b"}, []string{"b", "a"}, DiffOptions{}, true},
		{"equal objects", map[string]int{"a": 1}, map[string]int{"a": 1}, DiffOptions{}, false},
		{"bools", true, false, DiffOptions{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValuesDiffer(tt.old, tt.new, tt.opts))
		})
	}
}

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		field    string
		newValue interface{}
		want     models.ChangeType
	}{
		{"is_permanently_closed", true, models.ChangeClosure},
		{"is_permanently_closed", "true", models.ChangeClosure},
		{"is_permanently_closed", false, models.ChangeOther},
		{"is_temporarily_closed", true, models.ChangeTemporaryClosure},
		{"opening_hours", []string{"Mon"}, models.ChangeHours},
		{"address", "x", models.ChangeAddress},
		{"phone", "x", models.ChangePhone},
		{"name", "x", models.ChangeName},
		{"price", 5.0, models.ChangePrice},
		{"menu_item", "x", models.ChangeMenu},
		{"promotion", "x", models.ChangeNewPromotion},
		{"hero_image", "x", models.ChangeImage},
		{"google_rating", 4.5, models.ChangeOther},
		{"website", "x", models.ChangeOther},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyChange(tt.field, tt.newValue))
		})
	}
}

func TestChangeDetector_DiffRestaurant_IdenticalCopy(t *testing.T) {
	f := newDetectorFixture()
	r := sampleRestaurant()
	copied := *r
	copied.OpeningHours = append([]byte(nil), r.OpeningHours...)
	copied.GoogleRating = floatPtr(*r.GoogleRating)
	copied.GoogleReviewCount = intPtr(*r.GoogleReviewCount)

	changes := f.detector.DiffRestaurant(r, &copied, "google_places", 0.9)

	assert.Empty(t, changes)
}

func TestChangeDetector_DiffRestaurant_TracksFields(t *testing.T) {
	f := newDetectorFixture()
	old := sampleRestaurant()
	updated := *old
	updated.Phone = "+65 6000 0000"
	updated.GoogleRating = floatPtr(4.3)
	updated.IsPermanentlyClosed = true
	updated.Address = "  68 Orchard Rd, #01-29A  "
	updated.MallName = "Somewhere else"

	changes := f.detector.DiffRestaurant(old, &updated, "google_places", 0.9)

	require.Len(t, changes, 3)
	byField := map[string]models.DetectedChange{}
	for _, c := range changes {
		byField[c.FieldName] = c
		assert.Equal(t, models.EntityRestaurant, c.EntityType)
		assert.Equal(t, old.ID.String(), c.EntityID)
		assert.Equal(t, old.Slug, c.EntitySlug)
		assert.Equal(t, "google_places", c.Source)
		assert.Equal(t, 0.9, c.Confidence)
	}

	assert.Equal(t, models.ChangePhone, byField["phone"].ChangeType)
	assert.Equal(t, "+65 6251 2000", *byField["phone"].OldValue)
	assert.Equal(t, "4.1", *byField["google_rating"].OldValue)
	assert.Equal(t, "4.3", *byField["google_rating"].NewValue)
	assert.Equal(t, models.ChangeClosure, byField["is_permanently_closed"].ChangeType)
	assert.Equal(t, "true", *byField["is_permanently_closed"].NewValue)
}

func TestChangeDetector_DiffMenu(t *testing.T) {
	f := newDetectorFixture()
	old := []models.MenuItem{{Name: "A", Price: floatPtr(5)}}

	t.Run("price change and new item", func(t *testing.T) {
		changes := f.detector.DiffMenu(models.EntityBrandMenu, "brand-1", "brand", old,
			[]models.MenuItem{{Name: "A", Price: floatPtr(6)}, {Name: "B", Price: floatPtr(3)}}, "menu_scrape", 0.7)

		require.Len(t, changes, 2)
		assert.Equal(t, models.ChangePrice, changes[0].ChangeType)
		assert.Equal(t, "5", *changes[0].OldValue)
		assert.Equal(t, "6", *changes[0].NewValue)
		assert.Equal(t, "A", changes[0].Metadata["item_name"])

		assert.Equal(t, models.ChangeMenu, changes[1].ChangeType)
		assert.Nil(t, changes[1].OldValue)
		assert.Equal(t, "B", *changes[1].NewValue)
		assert.Equal(t, "added", changes[1].Metadata["action"])
	})

	t.Run("removed item", func(t *testing.T) {
		changes := f.detector.DiffMenu(models.EntityBrandMenu, "brand-1", "brand", old, nil, "menu_scrape", 0.7)

		require.Len(t, changes, 1)
		assert.Equal(t, models.ChangeMenu, changes[0].ChangeType)
		assert.Equal(t, "A", *changes[0].OldValue)
		assert.Nil(t, changes[0].NewValue)
		assert.Equal(t, "removed", changes[0].Metadata["action"])
	})

	t.Run("identical menus", func(t *testing.T) {
		changes := f.detector.DiffMenu(models.EntityBrandMenu, "brand-1", "brand", old,
			[]models.MenuItem{{Name: "A", Price: floatPtr(5)}}, "menu_scrape", 0.7)

		assert.Empty(t, changes)
	})
}

func phoneChange(r *models.Restaurant, confidence float64) models.DetectedChange {
	return models.DetectedChange{
		EntityType: models.EntityRestaurant,
		EntityID:   r.ID.String(),
		EntityName: r.Name,
		FieldName:  "phone",
		OldValue:   strPtr(r.Phone),
		NewValue:   strPtr("+65 6999 1111"),
		ChangeType: models.ChangePhone,
		Source:     "google_places",
		Confidence: confidence,
	}
}

func TestChangeDetector_ProcessChanges_ConfidenceBoundaries(t *testing.T) {
	tests := []struct {
		name        string
		confidence  float64
		wantApplied bool
		wantLow     bool
	}{
		{"exactly auto-apply threshold", 0.85, true, false},
		{"just below auto-apply threshold", 0.8499, false, false},
		{"exactly low-confidence threshold", 0.50, false, false},
		{"just below low-confidence threshold", 0.4999, false, true},
		{"full confidence", 1.0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleRestaurant()
			f := newDetectorFixture(r)

			result := f.detector.ProcessChanges(context.Background(), []models.DetectedChange{phoneChange(r, tt.confidence)})

			assert.Equal(t, 1, result.Logged)
			assert.Empty(t, result.Critical)
			if tt.wantApplied {
				assert.Equal(t, []string{"phone"}, result.AutoApplied)
				assert.Equal(t, 0, result.Queued)
				assert.Equal(t, "+65 6999 1111", f.restaurants.Get(r.ID.String()).Phone)
				require.Len(t, f.history.Entries, 1)
				assert.True(t, f.history.Entries[0].Verified)
				assert.Equal(t, AutoApplyReason, f.history.Entries[0].VerificationReason)
			} else {
				assert.Empty(t, result.AutoApplied)
				assert.Equal(t, 1, result.Queued)
				require.Len(t, f.queue.Items, 1)
				assert.Equal(t, models.ChangePhone.Priority(), f.queue.Items[0].Priority)
				assert.Equal(t, models.QueueStatusPending, f.queue.Items[0].Status)
				assert.Equal(t, f.history.Entries[0].ID, *f.queue.Items[0].HistoryID)
				assert.Equal(t, "+65 6251 2000", f.restaurants.Get(r.ID.String()).Phone)
			}
			if tt.wantLow {
				assert.Len(t, result.LowConfidence, 1)
			} else {
				assert.Empty(t, result.LowConfidence)
			}
		})
	}
}

func TestChangeDetector_ProcessChanges_CriticalOverride(t *testing.T) {
	critical := []struct {
		field string
		typ   models.ChangeType
		value string
	}{
		{"is_permanently_closed", models.ChangeClosure, "true"},
		{"is_temporarily_closed", models.ChangeTemporaryClosure, "true"},
		{"address", models.ChangeAddress, "1 Raffles Place"},
	}

	for _, c := range critical {
		for _, confidence := range []float64{1.0, 0.9, 0.85, 0.6, 0.2} {
			r := sampleRestaurant()
			f := newDetectorFixture(r)
			change := models.DetectedChange{
				EntityType: models.EntityRestaurant,
				EntityID:   r.ID.String(),
				FieldName:  c.field,
				NewValue:   strPtr(c.value),
				ChangeType: c.typ,
				Source:     "google_places",
				Confidence: confidence,
			}

			result := f.detector.ProcessChanges(context.Background(), []models.DetectedChange{change})

			assert.Empty(t, result.AutoApplied, "%s at %v", c.typ, confidence)
			assert.Len(t, result.Critical, 1)
			assert.Empty(t, result.LowConfidence)
			assert.Equal(t, 1, result.Queued)
			require.Len(t, f.queue.Items, 1)
			assert.Equal(t, c.typ.Priority(), f.queue.Items[0].Priority)
			assert.Equal(t, 0, f.restaurants.UpdateCalls)
		}
	}
}

func TestChangeDetector_ProcessChanges_HistoryFailureDoesNotBlock(t *testing.T) {
	r := sampleRestaurant()
	f := newDetectorFixture(r)
	f.history.CreateErr = errors.New("insert failed")

	result := f.detector.ProcessChanges(context.Background(), []models.DetectedChange{
		phoneChange(r, 0.95),
		phoneChange(r, 0.6),
	})

	assert.Equal(t, 0, result.Logged)
	assert.Equal(t, []string{"phone"}, result.AutoApplied)
	assert.Equal(t, 1, result.Queued)
	assert.Nil(t, f.queue.Items[0].HistoryID)
}

func TestChangeDetector_AutoApply(t *testing.T) {
	t.Run("typed values", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		ctx := context.Background()

		apply := func(field, value string) bool {
			stored := f.restaurants.Get(r.ID.String())
			return f.detector.AutoApply(ctx, models.DetectedChange{
				EntityType: models.EntityRestaurant,
				EntityID:   r.ID.String(),
				FieldName:  field,
				OldValue:   serializeValue(restaurantFieldValues(stored)[field]),
				NewValue:   strPtr(value),
			})
		}

		require.True(t, apply("google_rating", "4.7"))
		require.True(t, apply("google_review_count", "1600"))
		require.True(t, apply("opening_hours", `["Monday: Closed"]`))
		require.True(t, apply("website", "https://example.sg"))

		stored := f.restaurants.Get(r.ID.String())
		assert.Equal(t, 4.7, *stored.GoogleRating)
		assert.Equal(t, 1600, *stored.GoogleReviewCount)
		assert.Equal(t, []string{"Monday: Closed"}, stored.OpeningHoursList())
		assert.Equal(t, "https://example.sg", stored.Website)
		assert.Equal(t, 5, stored.Version)
	})

	t.Run("non-restaurant entity", func(t *testing.T) {
		f := newDetectorFixture()
		ok := f.detector.AutoApply(context.Background(), models.DetectedChange{
			EntityType: models.EntityBrandMenu,
			EntityID:   "brand-1",
			FieldName:  "price",
			NewValue:   strPtr("6"),
		})
		assert.False(t, ok)
	})

	t.Run("unparseable value", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		ok := f.detector.AutoApply(context.Background(), models.DetectedChange{
			EntityType: models.EntityRestaurant,
			EntityID:   r.ID.String(),
			FieldName:  "google_rating",
			NewValue:   strPtr("excellent"),
		})
		assert.False(t, ok)
	})

	t.Run("write failure", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		f.restaurants.UpdateErr = errors.New("deadlock")
		assert.False(t, f.detector.AutoApply(context.Background(), phoneChange(r, 0.95)))
	})

	t.Run("retries once on version conflict", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		f.restaurants.Conflicts = 1
		assert.True(t, f.detector.AutoApply(context.Background(), phoneChange(r, 0.95)))
		assert.Equal(t, 2, f.restaurants.UpdateCalls)
	})

	t.Run("value already in place", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		change := phoneChange(r, 0.95)
		change.OldValue = strPtr("+65 6000 0000")
		change.NewValue = strPtr(r.Phone)

		assert.True(t, f.detector.AutoApply(context.Background(), change))
		assert.Equal(t, 0, f.restaurants.UpdateCalls)
	})

	t.Run("stored value moved on since detection", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		change := phoneChange(r, 0.95)
		f.restaurants.Restaurants[r.ID.String()].Phone = "+65 6123 4567"

		assert.False(t, f.detector.AutoApply(context.Background(), change))
		assert.Equal(t, 0, f.restaurants.UpdateCalls)
		assert.Equal(t, "+65 6123 4567", f.restaurants.Get(r.ID.String()).Phone)
	})

	t.Run("gives up on repeated conflicts", func(t *testing.T) {
		r := sampleRestaurant()
		f := newDetectorFixture(r)
		f.restaurants.Conflicts = 5
		assert.False(t, f.detector.AutoApply(context.Background(), phoneChange(r, 0.95)))
		assert.Equal(t, "+65 6251 2000", f.restaurants.Get(r.ID.String()).Phone)
	})
}

func TestChangeDetector_ProcessChanges_KeepsOnePendingItemPerField(t *testing.T) {
	old := sampleRestaurant()
	f := newDetectorFixture(old)
	closed := *old
	closed.IsPermanentlyClosed = true
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		changes := f.detector.DiffRestaurant(old, &closed, "google_places", 0.9)
		require.Len(t, changes, 1)

		result := f.detector.ProcessChanges(ctx, changes)
		assert.Equal(t, 1, result.Queued)
		assert.Len(t, result.Critical, 1)
	}

	pending, err := f.queue.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "is_permanently_closed", pending[0].FieldName)
	assert.Equal(t, "true", *pending[0].NewValue)

	require.Len(t, f.history.Entries, 3)
	assert.Equal(t, f.history.Entries[2].ID, *pending[0].HistoryID)

	// a newer reading of the same field replaces the pending value
	moved := *old
	moved.Address = "1 Raffles Place"
	f.detector.ProcessChanges(ctx, f.detector.DiffRestaurant(old, &moved, "google_places", 0.9))
	moved.Address = "2 Raffles Place"
	f.detector.ProcessChanges(ctx, f.detector.DiffRestaurant(old, &moved, "google_places", 0.9))

	pending, err = f.queue.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	var address models.VerificationQueueItem
	for _, item := range pending {
		if item.FieldName == "address" {
			address = item
		}
	}
	assert.Equal(t, "2 Raffles Place", *address.NewValue)
	assert.Equal(t, old.Address, *address.OldValue)
}

func TestChangeDetector_ProcessChanges_StaleChangeGoesToReview(t *testing.T) {
	r := sampleRestaurant()
	f := newDetectorFixture(r)
	ctx := context.Background()

	fetched := *r
	fetched.Phone = "+65 1111 1111"
	changes := f.detector.DiffRestaurant(r, &fetched, "google_places", 0.9)
	require.Len(t, changes, 1)

	// an editor changes the phone between diff and apply
	stored := f.restaurants.Restaurants[r.ID.String()]
	stored.Phone = "+65 9999 9999"
	stored.Version++

	result := f.detector.ProcessChanges(ctx, changes)

	assert.Empty(t, result.AutoApplied)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, "+65 9999 9999", f.restaurants.Get(r.ID.String()).Phone)
	require.Len(t, f.queue.Items, 1)
	assert.Equal(t, "+65 1111 1111", *f.queue.Items[0].NewValue)
	assert.False(t, f.history.Entries[0].Verified)
}

func TestChangeDetector_PendingVerificationStats(t *testing.T) {
	f := newDetectorFixture()
	for _, p := range []int{1, 2, 3, 4, 5, 7, 9} {
		require.NoError(t, f.queue.Create(context.Background(), &models.VerificationQueueItem{Priority: p}))
	}
	require.NoError(t, f.queue.Create(context.Background(), &models.VerificationQueueItem{Priority: 1, Status: models.QueueStatusResolved}))

	stats, err := f.detector.PendingVerificationStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &VerificationStats{Total: 7, Critical: 2, High: 2, Normal: 3}, stats)
}

func TestChangeDetector_PendingVerificationStats_Cached(t *testing.T) {
	r := sampleRestaurant()
	f := newDetectorFixture(r)
	cache := mocks.NewCacheRepository()
	WithStatsCache(cache, time.Minute)(f.detector)
	ctx := context.Background()

	require.NoError(t, f.queue.Create(ctx, &models.VerificationQueueItem{Priority: 1}))

	stats, err := f.detector.PendingVerificationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, time.Minute, cache.Expires[verificationStatsKey])

	// rows written behind the detector's back are not seen until the entry goes
	require.NoError(t, f.queue.Create(ctx, &models.VerificationQueueItem{Priority: 5}))
	stats, err = f.detector.PendingVerificationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &VerificationStats{Total: 1, Critical: 1}, stats)

	f.detector.ProcessChanges(ctx, []models.DetectedChange{phoneChange(r, 0.6)})
	_, cached := cache.Values[verificationStatsKey]
	assert.False(t, cached)

	stats, err = f.detector.PendingVerificationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &VerificationStats{Total: 3, Critical: 1, Normal: 2}, stats)
}

func TestChangeDetector_PendingVerificationStats_CacheErrorFallsThrough(t *testing.T) {
	f := newDetectorFixture()
	cache := mocks.NewCacheRepository()
	cache.Err = errors.New("redis down")
	WithStatsCache(cache, 0)(f.detector)
	require.NoError(t, f.queue.Create(context.Background(), &models.VerificationQueueItem{Priority: 3}))

	stats, err := f.detector.PendingVerificationStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &VerificationStats{Total: 1, High: 1}, stats)
	assert.Equal(t, DefaultStatsCacheTTL, f.detector.statsCacheTTL)
}

func TestChangeDetector_RecentChangesSummary(t *testing.T) {
	f := newDetectorFixture()
	add := func(typ models.ChangeType, source string, age time.Duration) {
		require.NoError(t, f.history.Create(context.Background(), &models.ChangeHistory{
			ChangeType: typ,
			Source:     source,
			DetectedAt: fixedNow.Add(-age),
		}))
	}
	add(models.ChangeClosure, "google_places", time.Hour)
	add(models.ChangeHours, "google_places", 2*time.Hour)
	add(models.ChangePrice, "menu_scrape", 3*time.Hour)
	add(models.ChangeClosure, "google_places", 48*time.Hour)

	summary, err := f.detector.RecentChangesSummary(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Closures)
	assert.Equal(t, 2, summary.BySource["google_places"])
	assert.Equal(t, 1, summary.BySource["menu_scrape"])
	assert.Equal(t, 1, summary.ByType[models.ChangeHours])
}
