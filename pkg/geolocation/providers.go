package geolocation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

// Provider describes one IP geolocation service: where to ask and how to read the answer.
type Provider struct {
	ID  string
	URL string
	// URLFor returns the lookup URL for ip.
	URLFor func(base, ip string) string
	// Normalize converts a raw response body into a location or fails.
	Normalize func(body []byte) (*models.Location, error)
}

type ipapiResponse struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Postal      string  `json:"postal"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Org         string  `json:"org"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

type geolocationDBResponse struct {
	IPv4        string  `json:"IPv4"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	// geolocation-db answers "Not found" instead of a number for unknown addresses
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
}

// IPAPI reads https://ipapi.co responses.
func IPAPI(url string) Provider {
	return Provider{
		ID:  "ipapi",
		URL: url,
		URLFor: func(base, ip string) string {
			return strings.TrimSuffix(strings.TrimSuffix(base, "/"), "json") + ip + "/json/"
		},
		Normalize: func(body []byte) (*models.Location, error) {
			var res ipapiResponse
			if err := json.Unmarshal(body, &res); err != nil {
				return nil, fmt.Errorf("failed to decode ipapi response: %w", err)
			}
			if res.Error {
				return nil, fmt.Errorf("ipapi reported an error: %s", util.FirstNonEmpty(res.Reason, "unknown reason"))
			}
			return &models.Location{
				IP:          res.IP,
				City:        res.City,
				Region:      res.Region,
				Country:     res.CountryName,
				CountryCode: res.CountryCode,
				Postal:      res.Postal,
				Latitude:    res.Latitude,
				Longitude:   res.Longitude,
				Timezone:    res.Timezone,
				Org:         res.Org,
			}, nil
		},
	}
}

// GeolocationDB reads https://geolocation-db.com responses.
func GeolocationDB(url string) Provider {
	return Provider{
		ID:  "geolocationdb",
		URL: url,
		URLFor: func(base, ip string) string {
			return strings.TrimSuffix(base, "/") + "/" + ip
		},
		Normalize: func(body []byte) (*models.Location, error) {
			var res geolocationDBResponse
			if err := json.Unmarshal(body, &res); err != nil {
				return nil, fmt.Errorf("failed to decode geolocation-db response: %w", err)
			}
			loc := &models.Location{
				IP:          util.FirstNonEmpty(res.IPv4, "Unknown"),
				Country:     res.CountryName,
				CountryCode: res.CountryCode,
				Latitude:    parseCoordinate(res.Latitude),
				Longitude:   parseCoordinate(res.Longitude),
			}
			if res.City != nil {
				loc.City = *res.City
			}
			if res.State != nil {
				loc.Region = *res.State
			}
			return loc, nil
		},
	}
}

func parseCoordinate(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}

// DefaultProviders returns the primary and backup providers in lookup order.
func DefaultProviders(primaryURL, backupURL string) []Provider {
	return []Provider{
		IPAPI(primaryURL),
		GeolocationDB(backupURL),
	}
}
