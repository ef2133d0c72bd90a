package openstreetmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/zepph7/christmas-surprise/pkg/cache"
	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

// ErrNoAddress is returned when Nominatim answers but knows no place for the coordinates.
var ErrNoAddress = errors.New("no address found for coordinates")

type address struct {
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	County       string `json:"county"`
	State        string `json:"state"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	Postcode     string `json:"postcode"`
}

type reverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

// Reverser turns device coordinates into a human place (city, region, country).
type Reverser struct {
	baseURL   string
	userAgent string
	language  string
	client    *http.Client
	store     cache.Store
	backoff   func() retry.Backoff
}

type Option func(*Reverser)

// WithCache makes the reverser consult and fill store, keyed by coordinates rounded to ~100 m.
func WithCache(store cache.Store) Option {
	return func(r *Reverser) { r.store = store }
}

func WithBackoff(backoff func() retry.Backoff) Option {
	return func(r *Reverser) { r.backoff = backoff }
}

func WithHTTPClient(client *http.Client) Option {
	return func(r *Reverser) { r.client = client }
}

func NewReverser(baseURL, userAgent, language string, opts ...Option) *Reverser {
	r := &Reverser{
		baseURL:   baseURL,
		userAgent: userAgent,
		language:  language,
		client:    &http.Client{Timeout: 10 * time.Second},
		backoff: func() retry.Backoff {
			b := retry.NewFibonacci(250 * time.Millisecond)
			b = retry.WithMaxRetries(2, b)
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// cacheKey rounds to three decimals so nearby fixes share an entry
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("geo:%.3f,%.3f", lat, lon)
}

// Reverse fills City/Region/Country/CountryCode/Postal of a copy of loc.
func (r *Reverser) Reverse(ctx context.Context, loc models.Location) (models.Location, error) {
	key := cacheKey(loc.Latitude, loc.Longitude)
	if r.store != nil {
		cached, found, err := r.store.Get(key)
		if err != nil {
			logger.Warn("Reverse geocode cache read failed for %s: %v", key, err)
		} else if found {
			logger.Debug("Reverse geocode cache hit for %s", key)
			return merge(loc, cached), nil
		}
	}

	var place models.Location
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		var err error
		place, err = r.fetch(ctx, loc.Latitude, loc.Longitude)
		var re *retryableStatus
		if errors.As(err, &re) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return loc, err
	}

	if r.store != nil {
		if err := r.store.Set(key, place); err != nil {
			logger.Warn("Reverse geocode cache write failed for %s: %v", key, err)
		}
	}
	return merge(loc, place), nil
}

type retryableStatus struct {
	code int
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("nominatim returned retryable status %d", e.code)
}

func (r *Reverser) fetch(ctx context.Context, lat, lon float64) (models.Location, error) {
	reqURL, err := url.Parse(r.baseURL)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to parse nominatim URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("zoom", "10")
	q.Set("addressdetails", "1")
	if r.language != "" {
		q.Set("accept-language", r.language)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return models.Location{}, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return models.Location{}, &retryableStatus{code: res.StatusCode}
	}
	if res.StatusCode != http.StatusOK {
		return models.Location{}, fmt.Errorf("nominatim returned status %d", res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to read nominatim response: %w", err)
	}

	var payload reverseResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Location{}, fmt.Errorf("failed to decode nominatim response: %w", err)
	}
	if payload.Error != "" {
		return models.Location{}, fmt.Errorf("%w: %s", ErrNoAddress, payload.Error)
	}

	place := models.Location{
		City:        util.FirstNonEmpty(payload.Address.City, payload.Address.Town, payload.Address.Village, payload.Address.Municipality),
		Region:      util.FirstNonEmpty(payload.Address.State, payload.Address.County),
		Country:     payload.Address.Country,
		CountryCode: strings.ToUpper(payload.Address.CountryCode),
		Postal:      payload.Address.Postcode,
	}
	if place.City == "" && place.Country == "" {
		return models.Location{}, ErrNoAddress
	}
	logger.Debug("Reverse geocoded %.5f,%.5f to %s", lat, lon, payload.DisplayName)
	return place, nil
}

func merge(loc, place models.Location) models.Location {
	loc.City = place.City
	loc.Region = place.Region
	loc.Country = place.Country
	loc.CountryCode = place.CountryCode
	loc.Postal = place.Postal
	return loc
}
