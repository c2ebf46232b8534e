package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

type ReportHandler struct {
	reports service.ReportService
}

func NewReportHandler(reports service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// ExportChanges streams the change report workbook.
func (h *ReportHandler) ExportChanges(c *gin.Context) {
	window, ok := windowParam(c)
	if !ok {
		return
	}

	file, err := h.reports.Render(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to build change report",
			"message": err.Error(),
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Data(http.StatusOK, service.XLSXContentType, file.Data)
}

// PublishChanges writes the workbook to the configured report destinations.
func (h *ReportHandler) PublishChanges(c *gin.Context) {
	window, ok := windowParam(c)
	if !ok {
		return
	}

	file, err := h.reports.Publish(c.Request.Context(), window)
	if err != nil {
		body := gin.H{
			"error":   "failed to publish change report",
			"message": err.Error(),
		}
		if file != nil {
			body["locations"] = file.Locations
		}
		c.JSON(http.StatusBadGateway, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"name":      file.Name,
		"bytes":     len(file.Data),
		"locations": file.Locations,
	})
}
