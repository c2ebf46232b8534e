package models

import "time"

type BusinessStatus string

const (
	BusinessStatusOperational       BusinessStatus = "OPERATIONAL"
	BusinessStatusClosedTemporarily BusinessStatus = "CLOSED_TEMPORARILY"
	BusinessStatusClosedPermanently BusinessStatus = "CLOSED_PERMANENTLY"
)

func (s BusinessStatus) Valid() bool {
	switch s {
	case "", BusinessStatusOperational, BusinessStatusClosedTemporarily, BusinessStatusClosedPermanently:
		return true
	}
	return false
}

// PlaceSnapshot is the normalized result of one provider lookup.
// It is never mutated after the client returns it.
type PlaceSnapshot struct {
	PlaceID        string         `json:"place_id"`
	DisplayName    string         `json:"display_name"`
	Address        string         `json:"address,omitempty"`
	Rating         *float64       `json:"rating,omitempty"`
	RatingCount    *int           `json:"rating_count,omitempty"`
	OpeningHours   *OpeningHours  `json:"opening_hours,omitempty"`
	BusinessStatus BusinessStatus `json:"business_status,omitempty"`
	WebsiteURI     string         `json:"website_uri,omitempty"`
	PhoneNumber    string         `json:"phone_number,omitempty"`
	MapsURI        string         `json:"maps_uri,omitempty"`
	PhotoRefs      []string       `json:"photo_refs,omitempty"`
	Reviews        []PlaceReview  `json:"reviews,omitempty"`
}

type OpeningHours struct {
	OpenNow             *bool    `json:"open_now,omitempty"`
	WeekdayDescriptions []string `json:"weekday_descriptions"`
}

type PlaceReview struct {
	Author           string    `json:"author"`
	Rating           float64   `json:"rating"`
	Text             string    `json:"text,omitempty"`
	RelativeTime     string    `json:"relative_time,omitempty"`
	PublishedAt      time.Time `json:"published_at,omitempty"`
	AuthorPhotoURI   string    `json:"author_photo_uri,omitempty"`
	AuthorProfileURI string    `json:"author_profile_uri,omitempty"`
}

func (s *PlaceSnapshot) WeekdayDescriptions() []string {
	if s == nil || s.OpeningHours == nil {
		return nil
	}
	return s.OpeningHours.WeekdayDescriptions
}

func (s *PlaceSnapshot) IsPermanentlyClosed() bool {
	return s != nil && s.BusinessStatus == BusinessStatusClosedPermanently
}

// CacheRecord ties an entity to the snapshot it was last refreshed from.
type CacheRecord struct {
	EntityID  string
	Snapshot  *PlaceSnapshot
	FetchedAt time.Time
}

// Valid reports whether the record is still fresh at now. The boundary is inclusive.
func (c *CacheRecord) Valid(now time.Time, ttl time.Duration) bool {
	if c == nil || c.Snapshot == nil || c.FetchedAt.IsZero() {
		return false
	}
	return !now.After(c.FetchedAt.Add(ttl))
}
