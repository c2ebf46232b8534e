package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner drops state that has gone idle and reports how much it removed.
type Pruner interface {
	Cleanup() int
}

// CleanupWorker prunes per-client state on an interval.
type CleanupWorker struct {
	*ticker
	pruner Pruner
	logger *zap.SugaredLogger
}

func NewCleanupWorker(name string, pruner Pruner, interval time.Duration, logger *zap.SugaredLogger) *CleanupWorker {
	w := &CleanupWorker{pruner: pruner, logger: logger}
	w.ticker = newTicker(name, interval, interval, func(context.Context) {
		w.RunOnce()
	}, logger)
	return w
}

func (w *CleanupWorker) RunOnce() int {
	removed := w.pruner.Cleanup()
	if removed > 0 {
		w.logger.Debugw("pruned idle entries", "worker", w.Name(), "removed", removed)
	}
	return removed
}
