package clients

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

type localizedText struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode"`
}

type photoDTO struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

type openingHoursDTO struct {
	OpenNow             *bool    `json:"openNow"`
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

type authorDTO struct {
	DisplayName string `json:"displayName"`
	URI         string `json:"uri"`
	PhotoURI    string `json:"photoUri"`
}

type reviewDTO struct {
	Rating                         float64        `json:"rating"`
	Text                           *localizedText `json:"text"`
	RelativePublishTimeDescription string         `json:"relativePublishTimeDescription"`
	PublishTime                    string         `json:"publishTime"`
	AuthorAttribution              *authorDTO     `json:"authorAttribution"`
}

type placeDTO struct {
	ID                       string           `json:"id"`
	DisplayName              *localizedText   `json:"displayName"`
	FormattedAddress         string           `json:"formattedAddress"`
	Rating                   *float64         `json:"rating"`
	UserRatingCount          *int             `json:"userRatingCount"`
	Photos                   []photoDTO       `json:"photos"`
	RegularOpeningHours      *openingHoursDTO `json:"regularOpeningHours"`
	BusinessStatus           string           `json:"businessStatus"`
	WebsiteURI               string           `json:"websiteUri"`
	NationalPhoneNumber      string           `json:"nationalPhoneNumber"`
	InternationalPhoneNumber string           `json:"internationalPhoneNumber"`
	GoogleMapsURI            string           `json:"googleMapsUri"`
	Reviews                  []reviewDTO      `json:"reviews"`
}

type searchTextResponse struct {
	Places []json.RawMessage `json:"places"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// businessStatusUnspecified is the provider's "no status on record" value.
const businessStatusUnspecified = "BUSINESS_STATUS_UNSPECIFIED"

// parsePlace is the single conversion point from provider JSON to a snapshot.
func parsePlace(op string, raw []byte) (*models.PlaceSnapshot, error) {
	var dto placeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, &ParseError{Op: op, Reason: "decode place", Err: err}
	}
	if dto.ID == "" {
		return nil, &ParseError{Op: op, Reason: "place without id"}
	}

	status := models.BusinessStatus(dto.BusinessStatus)
	if status == businessStatusUnspecified {
		status = ""
	}
	if !status.Valid() {
		return nil, &ParseError{Op: op, Reason: "unknown business status " + dto.BusinessStatus}
	}
	if dto.Rating != nil && (*dto.Rating < 0 || *dto.Rating > 5) {
		return nil, &ParseError{Op: op, Reason: "rating out of range"}
	}

	snap := &models.PlaceSnapshot{
		PlaceID:        dto.ID,
		Address:        dto.FormattedAddress,
		Rating:         dto.Rating,
		RatingCount:    dto.UserRatingCount,
		BusinessStatus: status,
		WebsiteURI:     dto.WebsiteURI,
		PhoneNumber:    dto.InternationalPhoneNumber,
		MapsURI:        dto.GoogleMapsURI,
	}
	if dto.DisplayName != nil {
		snap.DisplayName = dto.DisplayName.Text
	}
	if snap.PhoneNumber == "" {
		snap.PhoneNumber = dto.NationalPhoneNumber
	}
	if dto.RegularOpeningHours != nil {
		snap.OpeningHours = &models.OpeningHours{
			OpenNow:             dto.RegularOpeningHours.OpenNow,
			WeekdayDescriptions: dto.RegularOpeningHours.WeekdayDescriptions,
		}
	}
	for _, photo := range dto.Photos {
		if photo.Name != "" {
			snap.PhotoRefs = append(snap.PhotoRefs, photo.Name)
		}
	}

	for i, r := range dto.Reviews {
		review := models.PlaceReview{
			Rating:       r.Rating,
			RelativeTime: r.RelativePublishTimeDescription,
		}
		if r.Text != nil {
			review.Text = r.Text.Text
		}
		if r.AuthorAttribution != nil {
			review.Author = r.AuthorAttribution.DisplayName
			review.AuthorPhotoURI = r.AuthorAttribution.PhotoURI
			review.AuthorProfileURI = r.AuthorAttribution.URI
		}
		if r.PublishTime != "" {
			t, err := time.Parse(time.RFC3339, r.PublishTime)
			if err != nil {
				return nil, &ParseError{Op: op, Reason: "review " + strconv.Itoa(i) + " publish time", Err: err}
			}
			review.PublishedAt = t
		}
		snap.Reviews = append(snap.Reviews, review)
	}

	return snap, nil
}
