package handlers

import "github.com/gin-gonic/gin"

type Handlers struct {
	Sync    *SyncHandler
	Changes *ChangesHandler
	Reports *ReportHandler
	Health  *HealthHandler

	// SyncMiddleware runs ahead of the sync routes only.
	SyncMiddleware []gin.HandlerFunc
}

// Register mounts the admin API on api (normally /api/v1).
func Register(api *gin.RouterGroup, h Handlers) {
	api.GET("/health", h.Health.Health)

	sync := api.Group("/sync", h.SyncMiddleware...)
	sync.POST("/restaurants/:id", h.Sync.SyncRestaurant)
	sync.POST("/batch", h.Sync.SyncBatch)

	api.GET("/verification/stats", h.Changes.VerificationStats)
	api.GET("/changes/summary", h.Changes.ChangesSummary)
	api.GET("/usage/costs", h.Changes.UsageCosts)

	api.GET("/reports/changes", h.Reports.ExportChanges)
	api.POST("/reports/changes/publish", h.Reports.PublishChanges)
}
