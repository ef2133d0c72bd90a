package models

import (
	"strings"
	"time"
)

type LocationSource string

const (
	SourceDevice      LocationSource = "device_geolocation"
	SourceIP          LocationSource = "ip_detection"
	SourceManual      LocationSource = "manual"
	SourceNotDetected LocationSource = "not_detected"
)

// GeoFailure classifies why a location could not be resolved. Empty means no failure.
type GeoFailure string

const (
	FailureNone                GeoFailure = ""
	FailurePermissionDenied    GeoFailure = "permission_denied"
	FailurePositionUnavailable GeoFailure = "position_unavailable"
	FailureTimeout             GeoFailure = "timeout"
	FailureUnknown             GeoFailure = "unknown"
)

type Location struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	City        string   `json:"city,omitempty"`
	Region      string   `json:"region,omitempty"`
	Country     string   `json:"country,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	Postal      string   `json:"postal,omitempty"`
	Timezone    string   `json:"timezone,omitempty"`
	Org         string   `json:"org,omitempty"`
	IP          string   `json:"ip,omitempty"`
	Error       string   `json:"error,omitempty"`
	CachedAt    int64    `json:"cached_at,omitempty"` // Unix timestamp the entry was written to the cache
}

// UnknownLocation is the sentinel returned when every lookup provider failed.
func UnknownLocation() *Location {
	return &Location{
		IP:      "Detection failed",
		City:    "Unknown",
		Region:  "Unknown",
		Country: "Unknown",
		Error:   "Could not detect location automatically",
	}
}

// IsUnknown reports whether the location carries no usable city.
func (l *Location) IsUnknown() bool {
	if l == nil {
		return true
	}
	city := strings.TrimSpace(l.City)
	return city == "" || city == "Unknown"
}

func (l *Location) HasCoordinates() bool {
	return l != nil && (l.Latitude != 0 || l.Longitude != 0)
}

// Label renders "City, Region, Country" from whatever parts are known.
func (l *Location) Label() string {
	if l == nil {
		return ""
	}
	if l.City != "" && l.Region != "" {
		label := l.City + ", " + l.Region
		if l.Country != "" {
			label += ", " + l.Country
		}
		return label
	}
	if l.Country != "" {
		return l.Country
	}
	return ""
}

type Resolution struct {
	Location *Location      `json:"location,omitempty"`
	Source   LocationSource `json:"source"`
	Manual   string         `json:"manual_location,omitempty"`
	Failure  GeoFailure     `json:"failure,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Usable reports whether the resolution carries a manual text or a detected city or fix.
func (r Resolution) Usable() bool {
	switch r.Source {
	case SourceManual:
		return r.Manual != ""
	case SourceDevice:
		return r.Location.HasCoordinates()
	case SourceIP:
		return !r.Location.IsUnknown()
	default:
		return false
	}
}

type Submission struct {
	Name      string
	Location  *Location
	Manual    string
	Source    LocationSource
	Timestamp time.Time
}

type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type SubmitResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

type StatusKind string

const (
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
	StatusWarning StatusKind = "warning"
	StatusError   StatusKind = "error"
)

type StatusMessage struct {
	Kind    StatusKind `json:"kind"`
	Text    string     `json:"text"`
	ShownAt time.Time  `json:"shown_at"`
}

// DeviceReport is what the page posts back after asking the browser for a position.
type DeviceReport struct {
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Timestamp    int64    `json:"timestamp,omitempty"` // milliseconds since epoch, as reported by the browser
	ErrorCode    int      `json:"error_code,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// PositionOptions mirrors the browser geolocation options the page should use.
type PositionOptions struct {
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	Timeout            int64 `json:"timeout"`    // milliseconds
	MaximumAge         int64 `json:"maximumAge"` // milliseconds
}
