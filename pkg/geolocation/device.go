package geolocation

import (
	"context"
	"time"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
)

// Browser GeolocationPositionError codes.
const (
	codePermissionDenied    = 1
	codePositionUnavailable = 2
	codeTimeout             = 3
)

var failureMessages = map[models.GeoFailure]string{
	models.FailurePermissionDenied:    "Location permission denied. Continuing without location.",
	models.FailurePositionUnavailable: "Location information is unavailable. Continuing without location.",
	models.FailureTimeout:             "Location request timed out. Continuing without location.",
	models.FailureUnknown:             "Could not determine your location. Continuing without location.",
}

// FailureMessage returns the user facing text for a classified failure.
func FailureMessage(f models.GeoFailure) string {
	return failureMessages[f]
}

// ClassifyError maps a browser error code onto a failure kind.
func ClassifyError(code int) models.GeoFailure {
	switch code {
	case codePermissionDenied:
		return models.FailurePermissionDenied
	case codePositionUnavailable:
		return models.FailurePositionUnavailable
	case codeTimeout:
		return models.FailureTimeout
	default:
		return models.FailureUnknown
	}
}

type Reverser interface {
	Reverse(ctx context.Context, loc models.Location) (models.Location, error)
}

// DeviceResolver accepts or rejects the position the page obtained from the browser.
type DeviceResolver struct {
	options  models.PositionOptions
	reverser Reverser
	now      func() time.Time
}

// NewDeviceResolver builds a resolver; reverser may be nil to skip reverse geocoding.
func NewDeviceResolver(options models.PositionOptions, reverser Reverser) *DeviceResolver {
	return &DeviceResolver{options: options, reverser: reverser, now: time.Now}
}

func failed(f models.GeoFailure) models.Resolution {
	return models.Resolution{
		Source:  models.SourceNotDetected,
		Failure: f,
		Message: FailureMessage(f),
	}
}

// Resolve classifies report. It never returns an error; every failure is folded into the resolution.
func (d *DeviceResolver) Resolve(ctx context.Context, req Request) models.Resolution {
	report := req.Device
	if report == nil {
		return failed(models.FailureUnknown)
	}
	if report.ErrorCode != 0 {
		f := ClassifyError(report.ErrorCode)
		logger.Info("Device geolocation failed (%s): %s", f, report.ErrorMessage)
		return failed(f)
	}
	if report.Latitude == nil || report.Longitude == nil {
		return failed(models.FailureUnknown)
	}

	lat, lon := *report.Latitude, *report.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		logger.Warn("Rejecting out of range device position %.5f,%.5f", lat, lon)
		return failed(models.FailurePositionUnavailable)
	}
	if report.Timestamp > 0 {
		age := d.now().Sub(time.UnixMilli(report.Timestamp))
		limit := time.Duration(d.options.MaximumAge+d.options.Timeout) * time.Millisecond
		if age > limit {
			logger.Warn("Rejecting stale device position, %s old", age.Round(time.Second))
			return failed(models.FailurePositionUnavailable)
		}
	}

	loc := models.Location{Latitude: lat, Longitude: lon, Accuracy: report.Accuracy}
	if d.reverser != nil {
		place, err := d.reverser.Reverse(ctx, loc)
		if err != nil {
			logger.Warn("Reverse geocoding %.5f,%.5f failed: %v", lat, lon, err)
		} else {
			loc = place
		}
	}
	return models.Resolution{Location: &loc, Source: models.SourceDevice}
}
