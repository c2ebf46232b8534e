package models

import (
	"time"

	"github.com/google/uuid"
)

type Operation string

const (
	OperationTextSearch   Operation = "text_search"
	OperationPlaceDetails Operation = "place_details"
	OperationPlacePhoto   Operation = "place_photo"
)

type APIUsageLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	APIName      string    `gorm:"type:varchar(50);not null;index" json:"api_name"`
	Operation    Operation `gorm:"type:varchar(50);not null" json:"operation"`
	EntityID     string    `gorm:"index" json:"entity_id,omitempty"`
	Success      bool      `gorm:"not null" json:"success"`
	LatencyMs    int64     `gorm:"not null" json:"latency_ms"`
	Cost         float64   `gorm:"type:numeric(10,4);not null" json:"cost"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

type CostBreakdown struct {
	APIName   string    `json:"api_name"`
	Operation Operation `json:"operation"`
	Calls     int64     `json:"calls"`
	Failures  int64     `json:"failures"`
	Cost      float64   `json:"cost"`
}
