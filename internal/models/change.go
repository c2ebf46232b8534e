package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EntityType string

const (
	EntityRestaurant    EntityType = "restaurant"
	EntityBrandMenu     EntityType = "brand_menu"
	EntityMenuItem      EntityType = "menu_item"
	EntityMenuCategory  EntityType = "menu_category"
	EntityPromotion     EntityType = "promotion"
	EntityBrandLocation EntityType = "brand_location"
)

type ChangeType string

const (
	ChangeClosure          ChangeType = "closure"
	ChangeTemporaryClosure ChangeType = "temporary_closure"
	ChangeHours            ChangeType = "hours_change"
	ChangeAddress          ChangeType = "address_change"
	ChangePhone            ChangeType = "phone_change"
	ChangeMenu             ChangeType = "menu_change"
	ChangePrice            ChangeType = "price_change"
	ChangeNewPromotion     ChangeType = "new_promotion"
	ChangeImage            ChangeType = "image_change"
	ChangeName             ChangeType = "name_change"
	ChangeLowConfidence    ChangeType = "low_confidence"
	ChangeOther            ChangeType = "other"
)

// Critical change types are never applied without a human looking at them.
func (t ChangeType) Critical() bool {
	return t == ChangeClosure || t == ChangeTemporaryClosure || t == ChangeAddress
}

var changePriorities = map[ChangeType]int{
	ChangeClosure:          1,
	ChangeTemporaryClosure: 2,
	ChangeAddress:          3,
	ChangeHours:            4,
	ChangePhone:            5,
	ChangeName:             5,
	ChangePrice:            6,
	ChangeMenu:             7,
	ChangeLowConfidence:    7,
	ChangeNewPromotion:     8,
	ChangeImage:            8,
	ChangeOther:            9,
}

// Priority is the review urgency of the change type, 1 being the most urgent.
func (t ChangeType) Priority() int {
	if p, ok := changePriorities[t]; ok {
		return p
	}
	return changePriorities[ChangeOther]
}

// DetectedChange is one field-level difference between two entity states.
type DetectedChange struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EntitySlug string         `json:"entity_slug,omitempty"`
	EntityName string         `json:"entity_name,omitempty"`
	FieldName  string         `json:"field_name"`
	OldValue   *string        `json:"old_value"`
	NewValue   *string        `json:"new_value"`
	ChangeType ChangeType     `json:"change_type"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ChangeHistory struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	EntityType         EntityType     `gorm:"type:varchar(50);not null;index:idx_change_history_entity" json:"entity_type"`
	EntityID           string         `gorm:"not null;index:idx_change_history_entity" json:"entity_id"`
	EntitySlug         string         `json:"entity_slug,omitempty"`
	EntityName         string         `json:"entity_name,omitempty"`
	FieldName          string         `gorm:"not null;index:idx_change_history_entity" json:"field_name"`
	OldValue           *string        `gorm:"type:text" json:"old_value"`
	NewValue           *string        `gorm:"type:text" json:"new_value"`
	ChangeType         ChangeType     `gorm:"type:varchar(50);not null;index" json:"change_type"`
	Source             string         `gorm:"type:varchar(100);not null" json:"source"`
	Confidence         float64        `gorm:"type:numeric(4,3);not null" json:"confidence"`
	Metadata           datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	Verified           bool           `gorm:"not null;default:false" json:"verified"`
	VerifiedAt         *time.Time     `json:"verified_at,omitempty"`
	VerificationReason string         `json:"verification_reason,omitempty"`
	DetectedAt         time.Time      `gorm:"not null;index" json:"detected_at"`
}

func (ChangeHistory) TableName() string {
	return "change_history"
}

type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusResolved QueueStatus = "resolved"
)

type VerificationQueueItem struct {
	ID         uuid.UUID      `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	HistoryID  *uuid.UUID     `gorm:"type:uuid;index" json:"history_id,omitempty"`
	EntityType EntityType     `gorm:"type:varchar(50);not null" json:"entity_type"`
	EntityID   string         `gorm:"not null;index" json:"entity_id"`
	EntitySlug string         `json:"entity_slug,omitempty"`
	EntityName string         `json:"entity_name,omitempty"`
	FieldName  string         `gorm:"not null" json:"field_name"`
	OldValue   *string        `gorm:"type:text" json:"old_value"`
	NewValue   *string        `gorm:"type:text" json:"new_value"`
	ChangeType ChangeType     `gorm:"type:varchar(50);not null" json:"change_type"`
	Source     string         `gorm:"type:varchar(100);not null" json:"source"`
	Confidence float64        `gorm:"type:numeric(4,3);not null" json:"confidence"`
	Metadata   datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	Priority   int            `gorm:"not null;index" json:"priority"`
	Status     QueueStatus    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

func (VerificationQueueItem) TableName() string {
	return "verification_queue"
}
