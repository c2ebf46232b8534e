package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

type SyncWorkerConfig struct {
	Interval      time.Duration
	CacheDuration time.Duration
	// DueLimit caps how many restaurants one pass picks up.
	DueLimit   int
	FetchPhoto bool
}

// SyncWorker periodically refreshes restaurants whose provider data has
// gone stale and reports the outcome.
type SyncWorker struct {
	*ticker
	restaurants repository.RestaurantRepository
	sync        service.SyncService
	alerts      service.AlertService
	config      SyncWorkerConfig
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewSyncWorker(
	restaurants repository.RestaurantRepository,
	sync service.SyncService,
	alerts service.AlertService,
	config SyncWorkerConfig,
	logger *zap.SugaredLogger,
) *SyncWorker {
	if config.CacheDuration <= 0 {
		config.CacheDuration = service.DefaultCacheDuration
	}
	if config.DueLimit <= 0 {
		config.DueLimit = 100
	}
	w := &SyncWorker{
		restaurants: restaurants,
		sync:        sync,
		alerts:      alerts,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
	// a pass can sleep between batches, so give it most of the interval
	w.ticker = newTicker("sync", config.Interval, config.Interval, func(ctx context.Context) {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Errorw("sync worker pass failed", "error", err)
		}
	}, logger)
	return w
}

// RunOnce syncs every restaurant due for a refresh.
func (w *SyncWorker) RunOnce(ctx context.Context) (*service.BatchResult, error) {
	due, err := w.restaurants.ListDueForSync(ctx, w.now().Add(-w.config.CacheDuration), w.config.DueLimit)
	if err != nil {
		err = fmt.Errorf("list restaurants due for sync: %w", err)
		w.alerts.ReportSyncFailure(ctx, err, 0)
		return nil, err
	}
	if len(due) == 0 {
		w.logger.Debug("no restaurants due for sync")
		return &service.BatchResult{}, nil
	}

	targets := make([]models.SyncTarget, 0, len(due))
	for _, r := range due {
		targets = append(targets, models.SyncTarget{ID: r.ID.String(), Name: r.Name, Context: r.MallName})
	}

	result := w.sync.BatchSync(ctx, targets, service.BatchOptions{
		Sync: service.SyncOptions{FetchPhoto: w.config.FetchPhoto},
	})
	w.logger.Infow("sync pass complete",
		"total", result.Total,
		"synced", result.Synced,
		"failed", result.Failed,
		"closures", len(result.Closures),
		"duration", result.Duration,
	)
	w.alerts.ReportBatch(ctx, result)
	return &result, nil
}
