package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

const (
	apiKeyHeader    = "X-Goog-Api-Key"
	fieldMaskHeader = "X-Goog-FieldMask"

	placeFields = "id,displayName,formattedAddress,rating,userRatingCount,photos," +
		"regularOpeningHours,businessStatus,websiteUri,nationalPhoneNumber," +
		"internationalPhoneNumber,googleMapsUri,reviews"

	maxResponseBytes = 4 << 20
)

type PlacesClient interface {
	// SearchText returns the best match for query, or nil when nothing matched.
	SearchText(ctx context.Context, req TextSearchRequest) (*models.PlaceSnapshot, error)
	GetPlace(ctx context.Context, placeID string) (*models.PlaceSnapshot, error)
	// ResolvePhoto follows the media redirect and returns the CDN URL.
	ResolvePhoto(ctx context.Context, photoName string, maxWidth int) (string, error)
}

type TextSearchRequest struct {
	Query        string
	LanguageCode string
	RegionCode   string
}

type PlacesConfig struct {
	APIKey       string
	BaseURL      string
	CDNHost      string
	LanguageCode string
	RegionCode   string
	Timeout      time.Duration
	Throttle     *Throttle
}

type placesClient struct {
	apiKey       string
	baseURL      string
	cdnHost      string
	languageCode string
	regionCode   string
	throttle     *Throttle
	client       *http.Client
}

func NewPlacesClient(config PlacesConfig) PlacesClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://places.googleapis.com/v1"
	}
	if config.CDNHost == "" {
		config.CDNHost = "googleusercontent.com"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Throttle == nil {
		config.Throttle = NewThrottle(DefaultMinSpacing)
	}

	return &placesClient{
		apiKey:       config.APIKey,
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		cdnHost:      config.CDNHost,
		languageCode: config.LanguageCode,
		regionCode:   config.RegionCode,
		throttle:     config.Throttle,
		client: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				// the key must never reach the CDN
				req.Header.Del(apiKeyHeader)
				return nil
			},
		},
	}
}

func (c *placesClient) SearchText(ctx context.Context, req TextSearchRequest) (*models.PlaceSnapshot, error) {
	body := map[string]interface{}{
		"textQuery":      req.Query,
		"maxResultCount": 1,
	}
	if lang := firstNonEmpty(req.LanguageCode, c.languageCode); lang != "" {
		body["languageCode"] = lang
	}
	if region := firstNonEmpty(req.RegionCode, c.regionCode); region != "" {
		body["regionCode"] = region
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(payload), prefixFields("places.", placeFields))
	if err != nil {
		return nil, err
	}

	var resp searchTextResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ParseError{Op: "searchText", Reason: "decode response", Err: err}
	}
	if len(resp.Places) == 0 {
		return nil, nil
	}

	return parsePlace("searchText", resp.Places[0])
}

func (c *placesClient) GetPlace(ctx context.Context, placeID string) (*models.PlaceSnapshot, error) {
	if placeID == "" {
		return nil, fmt.Errorf("%w: place id is required", ErrNotSent)
	}

	reqURL := fmt.Sprintf("%s/places/%s", c.baseURL, url.PathEscape(placeID))
	if c.languageCode != "" {
		reqURL += "?" + url.Values{"languageCode": {c.languageCode}}.Encode()
	}

	raw, err := c.do(ctx, http.MethodGet, reqURL, nil, placeFields)
	if err != nil {
		return nil, err
	}

	return parsePlace("getPlace", raw)
}

func (c *placesClient) ResolvePhoto(ctx context.Context, photoName string, maxWidth int) (string, error) {
	if photoName == "" {
		return "", fmt.Errorf("%w: photo reference is required", ErrNotSent)
	}
	if maxWidth <= 0 {
		maxWidth = 800
	}

	if err := c.throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotSent, err)
	}

	reqURL := fmt.Sprintf("%s/%s/media?maxWidthPx=%d", c.baseURL, strings.TrimPrefix(photoName, "/"), maxWidth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("User-Agent", "BestFoodWhere-Sync/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return "", &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	final := resp.Request.URL
	if !c.isCDNHost(final) {
		return "", fmt.Errorf("%w: %s", ErrNonCDNURL, final.Host)
	}

	return final.String(), nil
}

func (c *placesClient) do(ctx context.Context, method, reqURL string, body io.Reader, fieldMask string) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSent, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set(fieldMaskHeader, fieldMask)
	req.Header.Set("User-Agent", "BestFoodWhere-Sync/1.0")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status}
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil {
			perr.Message = apiErr.Error.Message
			if apiErr.Error.Status != "" {
				perr.Status = apiErr.Error.Status
			}
		}
		return nil, perr
	}

	return raw, nil
}

func (c *placesClient) isCDNHost(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := u.Hostname()
	return u.Host == c.cdnHost || host == c.cdnHost || strings.HasSuffix(host, "."+c.cdnHost)
}

func prefixFields(prefix, fields string) string {
	parts := strings.Split(fields, ",")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ",")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
