package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/clients"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/mocks"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/notify"
)

type syncFixture struct {
	*placesFixture
	notifier *mocks.Notifier
	sleeps   []time.Duration
	service  *syncService
}

func newSyncFixture(opts []SyncServiceOption, restaurants ...*models.Restaurant) *syncFixture {
	pf := newPlacesFixture(restaurants...)
	f := &syncFixture{placesFixture: pf, notifier: &mocks.Notifier{}}

	opts = append([]SyncServiceOption{WithNotifier(f.notifier)}, opts...)
	svc := NewSyncService(pf.service, pf.restaurants, SyncConfig{RegionHint: "Singapore"}, zap.NewNop().Sugar(), opts...).(*syncService)
	svc.now = func() time.Time { return fixedNow }
	svc.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.service = svc
	return f
}

func syncedAgo(age time.Duration) *models.Restaurant {
	at := fixedNow.Add(-age)
	return &models.Restaurant{
		ID:               uuid.New(),
		Name:             "Tim Ho Wan",
		MallName:         "Plaza Singapura",
		GoogleRating:     floatPtr(4.1),
		LastGoogleSyncAt: &at,
	}
}

func operationalSnapshot() *models.PlaceSnapshot {
	return &models.PlaceSnapshot{
		PlaceID:        "place-1",
		DisplayName:    "Tim Ho Wan",
		Rating:         floatPtr(4.1),
		BusinessStatus: models.BusinessStatusOperational,
	}
}

func TestSyncService_SyncEntity_StaleEntityFetches(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	f := newSyncFixture(nil, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		return operationalSnapshot(), nil
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	assert.True(t, result.Success)
	assert.True(t, result.Refreshed)
	assert.Equal(t, []string{"Tim Ho Wan Plaza Singapura Singapore"}, f.client.Queries)
	stored := f.restaurants.Get(r.ID.String())
	assert.Equal(t, fixedNow, *stored.LastGoogleSyncAt)
}

func TestSyncService_SyncEntity_FreshEntityShortCircuits(t *testing.T) {
	r := syncedAgo(time.Hour)
	f := newSyncFixture(nil, r)

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "Tim Ho Wan", "Plaza Singapura", SyncOptions{})

	assert.True(t, result.Success)
	assert.False(t, result.Refreshed)
	assert.Equal(t, "no refresh needed", result.Message)
	assert.Empty(t, result.Changes)
	assert.Equal(t, 0, f.client.NetworkCalls())
	assert.Empty(t, f.usage.Entries)
}

func TestSyncService_SyncEntity_ForceRefresh(t *testing.T) {
	r := syncedAgo(time.Hour)
	f := newSyncFixture(nil, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		return operationalSnapshot(), nil
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "Tim Ho Wan", "Plaza Singapura", SyncOptions{ForceRefresh: true, RegionHint: "SG"})

	assert.True(t, result.Refreshed)
	assert.Equal(t, []string{"Tim Ho Wan Plaza Singapura SG"}, f.client.Queries)
}

func TestSyncService_SyncEntity_NeverSynced(t *testing.T) {
	r := &models.Restaurant{Name: "Burnt Ends"}
	f := newSyncFixture(nil, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		return operationalSnapshot(), nil
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	assert.True(t, result.Refreshed)
	assert.Contains(t, result.Changes, "Business status: UNKNOWN -> OPERATIONAL")
	assert.Contains(t, result.Changes, "Rating: none -> 4.1")
}

func TestSyncService_SyncEntity_NotFound(t *testing.T) {
	f := newSyncFixture(nil)

	result := f.service.SyncEntity(context.Background(), uuid.NewString(), "x", "y", SyncOptions{})

	assert.False(t, result.Success)
	assert.Equal(t, "restaurant not found", result.Error)
	assert.Equal(t, 0, f.client.NetworkCalls())
}

func TestSyncService_SyncEntity_NoProviderResult(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	f := newSyncFixture(nil, r)

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no place found")
	assert.Equal(t, 0, f.restaurants.SaveCalls)
	assert.Equal(t, r.LastGoogleSyncAt, f.restaurants.Get(r.ID.String()).LastGoogleSyncAt)
}

func TestSyncService_SyncEntity_ProviderErrorIsStructured(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	f := newSyncFixture(nil, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		return nil, &clients.ParseError{Op: "searchText", Reason: "missing id"}
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "missing id")
}

func TestSyncService_SyncEntity_ClosureSentinel(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	prev, err := json.Marshal(operationalSnapshot())
	require.NoError(t, err)
	fetched := fixedNow.Add(-8 * 24 * time.Hour)
	r.GoogleData = prev
	r.GoogleDataFetchedAt = &fetched

	f := newSyncFixture(nil, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		snap := operationalSnapshot()
		snap.BusinessStatus = models.BusinessStatusClosedPermanently
		snap.Rating = floatPtr(3.9)
		return snap, nil
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	require.True(t, result.Success)
	assert.True(t, result.Closed)
	assert.Equal(t, []string{
		"Rating: 4.1 -> 3.9",
		"Business status: OPERATIONAL -> CLOSED_PERMANENTLY",
		ClosureSentinel,
	}, result.Changes)

	require.Equal(t, []string{notify.KindClosure}, f.notifier.Kinds())
	alert := f.notifier.Alerts[0].(notify.ClosureAlert)
	assert.Equal(t, "Tim Ho Wan", alert.EntityName)
	assert.Equal(t, "Plaza Singapura", alert.ContextName)
	assert.Equal(t, PlacesAPIName, alert.Source)
}

func TestSyncService_SyncEntity_ClosureSentinelWhenAlreadyClosed(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	r.IsPermanentlyClosed = true
	f := newSyncFixture(nil, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		snap := operationalSnapshot()
		snap.BusinessStatus = models.BusinessStatusClosedPermanently
		return snap, nil
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	assert.Equal(t, []string{ClosureSentinel}, result.Changes)
}

func TestSyncService_SyncEntity_Photo(t *testing.T) {
	t.Run("replaces non-CDN hero image", func(t *testing.T) {
		r := syncedAgo(8 * 24 * time.Hour)
		r.HeroImage = "https://example.com/hero.jpg"
		f := newSyncFixture(nil, r)
		f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
			snap := operationalSnapshot()
			snap.PhotoRefs = []string{"places/place-1/photos/a", "places/place-1/photos/b"}
			return snap, nil
		}
		var requested string
		f.client.PhotoFunc = func(_ context.Context, name string, maxWidth int) (string, error) {
			requested = name
			assert.Equal(t, DefaultPhotoMaxWidth, maxWidth)
			return "https://lh3.googleusercontent.com/places/a=w1200", nil
		}

		result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{FetchPhoto: true})

		assert.Equal(t, "places/place-1/photos/a", requested)
		assert.Equal(t, "https://lh3.googleusercontent.com/places/a=w1200", result.PhotoURL)
		assert.Equal(t, result.PhotoURL, f.restaurants.Get(r.ID.String()).HeroImage)
		assert.Contains(t, result.Changes, "Hero image updated")
	})

	t.Run("keeps CDN hero image", func(t *testing.T) {
		r := syncedAgo(8 * 24 * time.Hour)
		r.HeroImage = "https://lh5.googleusercontent.com/existing"
		f := newSyncFixture(nil, r)
		f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
			snap := operationalSnapshot()
			snap.PhotoRefs = []string{"places/place-1/photos/a"}
			return snap, nil
		}

		result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{FetchPhoto: true})

		assert.True(t, result.Success)
		assert.Equal(t, 0, f.client.PhotoCalls)
	})

	t.Run("non-CDN resolution leaves hero image alone", func(t *testing.T) {
		r := syncedAgo(8 * 24 * time.Hour)
		f := newSyncFixture(nil, r)
		f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
			snap := operationalSnapshot()
			snap.PhotoRefs = []string{"places/place-1/photos/a"}
			return snap, nil
		}
		f.client.PhotoFunc = func(context.Context, string, int) (string, error) {
			return "", clients.ErrNonCDNURL
		}

		result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{FetchPhoto: true})

		assert.True(t, result.Success)
		assert.Empty(t, result.PhotoURL)
		assert.Empty(t, f.restaurants.Get(r.ID.String()).HeroImage)
	})
}

func TestSyncService_SyncEntity_LockHeld(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	locker := mocks.NewLocker()
	f := newSyncFixture([]SyncServiceOption{WithEntityLocker(locker)}, r)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		return operationalSnapshot(), nil
	}

	release, err := locker.Acquire(context.Background(), "restaurant:"+r.ID.String(), time.Minute)
	require.NoError(t, err)

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, "sync already in progress", result.Error)
	assert.Equal(t, 0, f.client.NetworkCalls())

	require.NoError(t, release(context.Background()))
	result = f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})
	assert.True(t, result.Success)
	assert.Empty(t, locker.Held)
}

func TestSyncService_SyncEntity_FeedsChangeDetector(t *testing.T) {
	r := syncedAgo(8 * 24 * time.Hour)
	r.Address = "68 Orchard Rd"
	f := newSyncFixture(nil, r)

	history := mocks.NewChangeHistoryRepository()
	queue := mocks.NewVerificationQueueRepository()
	detector := NewChangeDetector(f.restaurants, history, queue, DetectorConfig{}, zap.NewNop().Sugar())
	WithChangeProcessor(detector)(f.service)

	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		snap := operationalSnapshot()
		snap.Address = "1 Raffles Place"
		snap.OpeningHours = &models.OpeningHours{WeekdayDescriptions: []string{"Monday: 9:00 AM – 9:00 PM"}}
		return snap, nil
	}

	result := f.service.SyncEntity(context.Background(), r.ID.String(), "", "", SyncOptions{})

	require.True(t, result.Success)
	require.NotNil(t, result.Detection)
	assert.Equal(t, []string{"opening_hours"}, result.Detection.AutoApplied)
	require.Len(t, result.Detection.Critical, 1)
	assert.Equal(t, "address", result.Detection.Critical[0].FieldName)

	stored := f.restaurants.Get(r.ID.String())
	assert.Equal(t, []string{"Monday: 9:00 AM – 9:00 PM"}, stored.OpeningHoursList())
	assert.Equal(t, "68 Orchard Rd", stored.Address)
	require.Len(t, queue.Items, 1)
	assert.Equal(t, models.ChangeAddress, queue.Items[0].ChangeType)
}

func batchTargets(restaurants []*models.Restaurant) []models.SyncTarget {
	targets := make([]models.SyncTarget, 0, len(restaurants))
	for _, r := range restaurants {
		targets = append(targets, models.SyncTarget{ID: r.ID.String(), Name: r.Name, Context: "Mall"})
	}
	return targets
}

func TestSyncService_BatchSync_PartialFailure(t *testing.T) {
	var restaurants []*models.Restaurant
	for _, name := range []string{"R1", "R2", "R3", "R4", "R5"} {
		r := syncedAgo(8 * 24 * time.Hour)
		r.Name = name
		restaurants = append(restaurants, r)
	}
	f := newSyncFixture(nil, restaurants...)
	f.client.SearchFunc = func(_ context.Context, req clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		if strings.HasPrefix(req.Query, "R3 ") {
			return nil, errors.New("connection reset")
		}
		return operationalSnapshot(), nil
	}

	var progress []BatchProgress
	var result BatchResult
	require.NotPanics(t, func() {
		result = f.service.BatchSync(context.Background(), batchTargets(restaurants), BatchOptions{
			BatchSize:  2,
			Delay:      time.Second,
			OnProgress: func(p BatchProgress) { progress = append(progress, p) },
		})
	})

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, restaurants[2].ID.String(), result.Errors[0].ID)
	assert.Contains(t, result.Errors[0].Error, "connection reset")
	assert.Empty(t, result.Closures)

	require.Len(t, progress, 5)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Done)
		assert.Equal(t, 5, p.Total)
	}
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeps)
	assert.Equal(t, []string{"R1 Mall Singapore", "R2 Mall Singapore", "R3 Mall Singapore", "R4 Mall Singapore", "R5 Mall Singapore"}, f.client.Queries)
}

func TestSyncService_BatchSync_DefaultsAndClosures(t *testing.T) {
	var restaurants []*models.Restaurant
	for i := 0; i < 12; i++ {
		restaurants = append(restaurants, syncedAgo(8*24*time.Hour))
	}
	f := newSyncFixture(nil, restaurants...)
	f.client.SearchFunc = func(context.Context, clients.TextSearchRequest) (*models.PlaceSnapshot, error) {
		snap := operationalSnapshot()
		snap.BusinessStatus = models.BusinessStatusClosedPermanently
		return snap, nil
	}

	result := f.service.BatchSync(context.Background(), batchTargets(restaurants), BatchOptions{})

	assert.Equal(t, 12, result.Synced)
	assert.Len(t, result.Closures, 12)
	assert.Equal(t, []time.Duration{DefaultBatchDelay}, f.sleeps)

	summary := result.Summary()
	assert.Equal(t, 12, summary.Total)
	assert.Equal(t, result.Closures, summary.Closures)
}

func TestSyncService_BatchSync_CancelledContext(t *testing.T) {
	restaurants := []*models.Restaurant{syncedAgo(8 * 24 * time.Hour), syncedAgo(8 * 24 * time.Hour)}
	f := newSyncFixture(nil, restaurants...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.service.BatchSync(ctx, batchTargets(restaurants), BatchOptions{})

	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, context.Canceled.Error(), result.Errors[0].Error)
	assert.Equal(t, 0, f.client.NetworkCalls())
}
