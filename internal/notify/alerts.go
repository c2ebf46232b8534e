package notify

import (
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

const (
	KindClosure             = "closure"
	KindCostThreshold       = "cost_threshold"
	KindSyncSummary         = "sync_summary"
	KindSyncFailure         = "sync_failure"
	KindPendingVerification = "pending_verification"
)

type Alert interface {
	Kind() string
}

type ClosureAlert struct {
	EntityID    string    `json:"entity_id"`
	EntityName  string    `json:"entity_name"`
	ContextName string    `json:"context_name"`
	Source      string    `json:"source"`
	Confidence  float64   `json:"confidence"`
	DetectedAt  time.Time `json:"detected_at"`
}

func (ClosureAlert) Kind() string { return KindClosure }

type CostAlert struct {
	TotalCost float64                `json:"total_cost"`
	Threshold float64                `json:"threshold"`
	Window    string                 `json:"window"`
	Breakdown []models.CostBreakdown `json:"breakdown"`
}

func (CostAlert) Kind() string { return KindCostThreshold }

type FailedEntity struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type SyncSummary struct {
	Total    int            `json:"total"`
	Synced   int            `json:"synced"`
	Failed   int            `json:"failed"`
	Closures []string       `json:"closures"`
	Failures []FailedEntity `json:"failures"`
	Duration time.Duration  `json:"duration"`
}

func (SyncSummary) Kind() string { return KindSyncSummary }

type SyncFailureAlert struct {
	Error         string `json:"error"`
	AffectedCount int    `json:"affected_count"`
}

func (SyncFailureAlert) Kind() string { return KindSyncFailure }

type PendingVerificationAlert struct {
	PendingCount  int `json:"pending_count"`
	CriticalCount int `json:"critical_count"`
}

func (PendingVerificationAlert) Kind() string { return KindPendingVerification }
