package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Restaurant struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	Slug                string         `gorm:"uniqueIndex" json:"slug"`
	Name                string         `gorm:"type:text;not null" json:"name"`
	MallName            string         `gorm:"type:text" json:"mall_name"`
	Address             string         `gorm:"type:text" json:"address"`
	Phone               string         `gorm:"type:varchar(50)" json:"phone"`
	Website             string         `gorm:"type:text" json:"website"`
	OpeningHours        datatypes.JSON `gorm:"type:jsonb" json:"opening_hours,omitempty"`
	HeroImage           string         `gorm:"type:text" json:"hero_image"`
	IsPermanentlyClosed bool           `gorm:"not null;default:false" json:"is_permanently_closed"`
	IsTemporarilyClosed bool           `gorm:"not null;default:false" json:"is_temporarily_closed"`
	GooglePlaceID       string         `gorm:"index" json:"google_place_id,omitempty"`
	GoogleRating        *float64       `gorm:"type:numeric(2,1)" json:"google_rating,omitempty"`
	GoogleReviewCount   *int           `json:"google_review_count,omitempty"`
	GoogleMapsURI       string         `gorm:"type:text" json:"google_maps_uri,omitempty"`
	GoogleData          datatypes.JSON `gorm:"type:jsonb" json:"-"`
	GoogleDataFetchedAt *time.Time     `json:"google_data_fetched_at,omitempty"`
	LastGoogleSyncAt    *time.Time     `gorm:"index" json:"last_google_sync_at,omitempty"`
	Version             int            `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CacheRecord decodes the stored provider snapshot. A restaurant that was
// never fetched yields a nil record.
func (r *Restaurant) CacheRecord() (*CacheRecord, error) {
	if len(r.GoogleData) == 0 || r.GoogleDataFetchedAt == nil {
		return nil, nil
	}
	var snap PlaceSnapshot
	if err := json.Unmarshal(r.GoogleData, &snap); err != nil {
		return nil, fmt.Errorf("decode google_data: %w", err)
	}
	return &CacheRecord{
		EntityID:  r.ID.String(),
		Snapshot:  &snap,
		FetchedAt: *r.GoogleDataFetchedAt,
	}, nil
}

func (r *Restaurant) OpeningHoursList() []string {
	if len(r.OpeningHours) == 0 {
		return nil
	}
	var hours []string
	if err := json.Unmarshal(r.OpeningHours, &hours); err != nil {
		return nil
	}
	if len(hours) == 0 {
		return nil
	}
	return hours
}

// WithSnapshot returns a copy of the restaurant with the provider-owned
// fields replaced by the snapshot's values. The curated name and hero image
// are left untouched.
func (r Restaurant) WithSnapshot(snap *PlaceSnapshot) Restaurant {
	if snap == nil {
		return r
	}
	if snap.Address != "" {
		r.Address = snap.Address
	}
	if snap.PhoneNumber != "" {
		r.Phone = snap.PhoneNumber
	}
	if snap.WebsiteURI != "" {
		r.Website = snap.WebsiteURI
	}
	if hours := snap.WeekdayDescriptions(); len(hours) > 0 {
		if raw, err := json.Marshal(hours); err == nil {
			r.OpeningHours = raw
		}
	}
	if snap.Rating != nil {
		rating := *snap.Rating
		r.GoogleRating = &rating
	}
	if snap.RatingCount != nil {
		count := *snap.RatingCount
		r.GoogleReviewCount = &count
	}
	if snap.BusinessStatus != "" {
		r.IsPermanentlyClosed = snap.BusinessStatus == BusinessStatusClosedPermanently
		r.IsTemporarilyClosed = snap.BusinessStatus == BusinessStatusClosedTemporarily
	}
	return r
}

type SyncTarget struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Context string `json:"context" yaml:"context"`
}
