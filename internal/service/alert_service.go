package service

import (
	"context"
	"fmt"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/notify"

	"go.uber.org/zap"
)

type AlertConfig struct {
	CostThreshold float64
	CostWindow    time.Duration
	// PendingCriticalMin is how many critical items must be waiting before
	// the review queue alert fires.
	PendingCriticalMin int
}

type AlertService interface {
	ReportBatch(ctx context.Context, result BatchResult)
	ReportSyncFailure(ctx context.Context, err error, affected int)
	CheckCost(ctx context.Context) (*CostReport, bool, error)
	CheckPendingVerifications(ctx context.Context) (*VerificationStats, bool, error)
}

type alertService struct {
	places   PlacesService
	detector ChangeDetector
	notifier notify.Notifier
	config   AlertConfig
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewAlertService(places PlacesService, detector ChangeDetector, notifier notify.Notifier, config AlertConfig, logger *zap.SugaredLogger) AlertService {
	if config.CostWindow <= 0 {
		config.CostWindow = 24 * time.Hour
	}
	if config.PendingCriticalMin <= 0 {
		config.PendingCriticalMin = 1
	}
	return &alertService{
		places:   places,
		detector: detector,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *alertService) ReportBatch(ctx context.Context, result BatchResult) {
	s.send(ctx, result.Summary())
	if result.Total > 0 && result.Failed == result.Total {
		msg := "all entities failed"
		if len(result.Errors) > 0 {
			msg = result.Errors[0].Error
		}
		s.send(ctx, notify.SyncFailureAlert{Error: msg, AffectedCount: result.Failed})
	}
}

func (s *alertService) ReportSyncFailure(ctx context.Context, err error, affected int) {
	s.send(ctx, notify.SyncFailureAlert{Error: err.Error(), AffectedCount: affected})
}

// CheckCost alerts when spend over the trailing window exceeds the
// threshold. A zero threshold disables the alert.
func (s *alertService) CheckCost(ctx context.Context) (*CostReport, bool, error) {
	report, err := s.places.CostSince(ctx, s.now().Add(-s.config.CostWindow))
	if err != nil {
		return nil, false, fmt.Errorf("cost check: %w", err)
	}
	if s.config.CostThreshold <= 0 || report.TotalCost <= s.config.CostThreshold {
		return report, false, nil
	}

	s.send(ctx, notify.CostAlert{
		TotalCost: report.TotalCost,
		Threshold: s.config.CostThreshold,
		Window:    s.config.CostWindow.String(),
		Breakdown: report.Breakdown,
	})
	return report, true, nil
}

func (s *alertService) CheckPendingVerifications(ctx context.Context) (*VerificationStats, bool, error) {
	stats, err := s.detector.PendingVerificationStats(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("pending verification check: %w", err)
	}
	if stats.Critical < s.config.PendingCriticalMin {
		return stats, false, nil
	}

	s.send(ctx, notify.PendingVerificationAlert{PendingCount: stats.Total, CriticalCount: stats.Critical})
	return stats, true, nil
}

func (s *alertService) send(ctx context.Context, alert notify.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.Warnw("alert not delivered", "kind", alert.Kind(), "error", err)
	}
}
