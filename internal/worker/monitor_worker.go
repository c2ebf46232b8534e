package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

// MonitorWorker watches API spend and the verification backlog.
type MonitorWorker struct {
	*ticker
	alerts service.AlertService
	logger *zap.SugaredLogger
}

func NewMonitorWorker(alerts service.AlertService, interval time.Duration, logger *zap.SugaredLogger) *MonitorWorker {
	w := &MonitorWorker{alerts: alerts, logger: logger}
	w.ticker = newTicker("monitor", interval, 30*time.Second, func(ctx context.Context) {
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Errorw("monitor worker pass failed", "error", err)
		}
	}, logger)
	return w
}

// RunOnce runs both checks; one failing does not skip the other.
func (w *MonitorWorker) RunOnce(ctx context.Context) error {
	var errs []error

	report, alerted, err := w.alerts.CheckCost(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		w.logger.Infow("api cost checked", "total", report.TotalCost, "calls", report.Calls, "alerted", alerted)
	}

	stats, alerted, err := w.alerts.CheckPendingVerifications(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		w.logger.Infow("verification queue checked", "pending", stats.Total, "critical", stats.Critical, "alerted", alerted)
	}

	return errors.Join(errs...)
}
