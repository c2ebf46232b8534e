package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

const defaultWindow = 24 * time.Hour

type ChangesHandler struct {
	detector service.ChangeDetector
	places   service.PlacesService
}

func NewChangesHandler(detector service.ChangeDetector, places service.PlacesService) *ChangesHandler {
	return &ChangesHandler{detector: detector, places: places}
}

func (h *ChangesHandler) VerificationStats(c *gin.Context) {
	stats, err := h.detector.PendingVerificationStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load verification stats",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ChangesHandler) ChangesSummary(c *gin.Context) {
	window, ok := windowParam(c)
	if !ok {
		return
	}

	summary, err := h.detector.RecentChangesSummary(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load change summary",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window":  window.String(),
		"summary": summary,
	})
}

func (h *ChangesHandler) UsageCosts(c *gin.Context) {
	window, ok := windowParam(c)
	if !ok {
		return
	}

	report, err := h.places.CostSince(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load api costs",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window": window.String(),
		"costs":  report,
	})
}

// windowParam reads ?window= as a Go duration or a whole number of days
// ("7d"). It writes the 400 response itself when the value is bad.
func windowParam(c *gin.Context) (time.Duration, bool) {
	raw := c.Query("window")
	if raw == "" {
		return defaultWindow, true
	}
	window, err := parseWindow(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid window",
			"message": err.Error(),
		})
		return 0, false
	}
	return window, true
}

func parseWindow(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("bad day count %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	return d, nil
}
