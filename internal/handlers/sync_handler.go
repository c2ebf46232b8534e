package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

const maxBatchTargets = 500

type SyncHandler struct {
	sync    service.SyncService
	alerts  service.AlertService
	logger  *zap.SugaredLogger
	timeout time.Duration
}

// NewSyncHandler serves manual sync triggers. timeout bounds a batch started
// in the background.
func NewSyncHandler(sync service.SyncService, alerts service.AlertService, timeout time.Duration, logger *zap.SugaredLogger) *SyncHandler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SyncHandler{sync: sync, alerts: alerts, logger: logger, timeout: timeout}
}

type syncRequest struct {
	Name         string `json:"name"`
	Context      string `json:"context"`
	ForceRefresh bool   `json:"force_refresh"`
	FetchPhoto   bool   `json:"fetch_photo"`
	RegionHint   string `json:"region_hint"`
}

func (r syncRequest) options() service.SyncOptions {
	return service.SyncOptions{ForceRefresh: r.ForceRefresh, FetchPhoto: r.FetchPhoto, RegionHint: r.RegionHint}
}

// SyncRestaurant handles POST /sync/restaurants/:id. The body is optional.
func (h *SyncHandler) SyncRestaurant(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
			return
		}
	}

	result := h.sync.SyncEntity(c.Request.Context(), c.Param("id"), req.Name, req.Context, req.options())

	status := http.StatusOK
	if !result.Success {
		switch result.Error {
		case service.MsgRestaurantNotFound:
			status = http.StatusNotFound
		case service.MsgSyncInProgress:
			status = http.StatusConflict
		default:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, result)
}

type batchRequest struct {
	Targets      []models.SyncTarget `json:"targets" binding:"required,min=1"`
	BatchSize    int                 `json:"batch_size"`
	DelayMs      int                 `json:"delay_ms"`
	ForceRefresh bool                `json:"force_refresh"`
	FetchPhoto   bool                `json:"fetch_photo"`
}

// SyncBatch handles POST /sync/batch. With ?wait=true the response carries
// the batch result; otherwise the batch runs in the background and 202 is
// returned.
func (h *SyncHandler) SyncBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return
	}
	if len(req.Targets) > maxBatchTargets {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many targets", "max": maxBatchTargets})
		return
	}
	for _, t := range req.Targets {
		if t.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every target needs an id"})
			return
		}
	}

	opts := service.BatchOptions{
		BatchSize: req.BatchSize,
		Delay:     time.Duration(req.DelayMs) * time.Millisecond,
		Sync:      service.SyncOptions{ForceRefresh: req.ForceRefresh, FetchPhoto: req.FetchPhoto},
	}

	if c.Query("wait") == "true" {
		result := h.sync.BatchSync(c.Request.Context(), req.Targets, opts)
		h.alerts.ReportBatch(c.Request.Context(), result)
		c.JSON(http.StatusOK, result)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		result := h.sync.BatchSync(ctx, req.Targets, opts)
		h.alerts.ReportBatch(ctx, result)
		h.logger.Infow("background batch finished", "total", result.Total, "synced", result.Synced, "failed", result.Failed)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "batch sync started",
		"total":   len(req.Targets),
	})
}
