package relay

import (
	"strconv"
	"time"

	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Field struct {
	Key   string
	Value string
}

// Payload keeps fields in insertion order so form and JSON bodies read the same way.
type Payload []Field

func (p *Payload) add(key, value string) {
	*p = append(*p, Field{Key: key, Value: value})
}

func (p Payload) Get(key string) (string, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (p Payload) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, f := range p {
		m[f.Key] = f.Value
	}
	return m
}

// Metadata are the fixed underscore fields the intake service interprets itself.
type Metadata struct {
	Subject string
	Format  string
	ReplyTo string
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// BuildPayload flattens a submission into the documented relay fields.
func BuildPayload(s models.Submission, meta Metadata) Payload {
	var p Payload
	p.add("name", s.Name)
	p.add("timestamp", s.Timestamp.UTC().Format(timestampLayout))

	loc := s.Location
	switch {
	case s.Source == models.SourceManual && s.Manual != "":
		p.add("manual_location", s.Manual)
		p.add("location_source", string(models.SourceManual))

	case (s.Source == models.SourceIP || s.Source == models.SourceDevice) && !loc.IsUnknown():
		p.add("location_city", util.FirstNonEmpty(loc.City, "Unknown"))
		p.add("location_region", util.FirstNonEmpty(loc.Region, "Unknown"))
		p.add("location_country", util.FirstNonEmpty(loc.Country, "Unknown"))
		p.add("location_ip", util.FirstNonEmpty(loc.IP, "Unknown"))
		p.add("location_source", string(s.Source))
		addCoordinates(&p, loc)

	case s.Source == models.SourceDevice && loc.HasCoordinates():
		p.add("location_source", string(models.SourceDevice))
		addCoordinates(&p, loc)

	default:
		p.add("location_source", string(models.SourceNotDetected))
		p.add("location_city", "Not detected")
	}

	if meta.Subject != "" {
		p.add("_subject", meta.Subject)
	}
	if meta.Format != "" {
		p.add("_format", meta.Format)
	}
	if meta.ReplyTo != "" {
		p.add("_replyto", meta.ReplyTo)
	}
	return p
}

func addCoordinates(p *Payload, loc *models.Location) {
	if !loc.HasCoordinates() {
		return
	}
	p.add("latitude", formatFloat(loc.Latitude))
	p.add("longitude", formatFloat(loc.Longitude))
	if loc.Accuracy != nil {
		p.add("accuracy", formatFloat(*loc.Accuracy))
	}
}

// NewSubmission stamps the submission time.
func NewSubmission(name string, res models.Resolution, now time.Time) models.Submission {
	return models.Submission{
		Name:      name,
		Location:  res.Location,
		Manual:    res.Manual,
		Source:    res.Source,
		Timestamp: now,
	}
}
