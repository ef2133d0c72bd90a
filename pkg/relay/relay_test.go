package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/relay"
)

var meta = relay.Metadata{
	Subject: "🎄 Christmas Surprise Request",
	Format:  "plain",
	ReplyTo: "noreply@christmassurprise.com",
}

var stamp = time.Date(2025, 12, 24, 18, 30, 0, 0, time.FixedZone("CET", 3600))

func TestBuildPayload(t *testing.T) {
	accuracy := 30.0

	t.Run("Manual", func(t *testing.T) {
		p := relay.BuildPayload(models.Submission{
			Name: "Ada", Manual: "Rovaniemi", Source: models.SourceManual, Timestamp: stamp,
			Location: &models.Location{City: "Oslo"},
		}, meta)
		m := p.Map()
		assert.Equal(t, "Ada", m["name"])
		assert.Equal(t, "2025-12-24T17:30:00.000Z", m["timestamp"])
		assert.Equal(t, "Rovaniemi", m["manual_location"])
		assert.Equal(t, "manual", m["location_source"])
		assert.NotContains(t, m, "location_city")
		assert.Equal(t, "plain", m["_format"])
		assert.Equal(t, "noreply@christmassurprise.com", m["_replyto"])
	})

	t.Run("IPDetected", func(t *testing.T) {
		p := relay.BuildPayload(models.Submission{
			Name: "Ada", Source: models.SourceIP, Timestamp: stamp,
			Location: &models.Location{City: "Oslo", Country: "Norway", IP: "203.0.113.7", Latitude: 59.91, Longitude: 10.75},
		}, meta)
		m := p.Map()
		assert.Equal(t, "Oslo", m["location_city"])
		assert.Equal(t, "Unknown", m["location_region"])
		assert.Equal(t, "Norway", m["location_country"])
		assert.Equal(t, "203.0.113.7", m["location_ip"])
		assert.Equal(t, "ip_detection", m["location_source"])
		assert.Equal(t, "59.91", m["latitude"])
		assert.Equal(t, "10.75", m["longitude"])
		assert.NotContains(t, m, "accuracy")
	})

	t.Run("DeviceWithoutCity", func(t *testing.T) {
		p := relay.BuildPayload(models.Submission{
			Name: "Ada", Source: models.SourceDevice, Timestamp: stamp,
			Location: &models.Location{Latitude: 60.17, Longitude: 24.94, Accuracy: &accuracy},
		}, meta)
		m := p.Map()
		assert.Equal(t, "device_geolocation", m["location_source"])
		assert.Equal(t, "30", m["accuracy"])
		assert.NotContains(t, m, "location_city")
	})

	t.Run("NotDetected", func(t *testing.T) {
		p := relay.BuildPayload(models.Submission{
			Name: "Ada", Source: models.SourceNotDetected, Timestamp: stamp, Location: models.UnknownLocation(),
		}, meta)
		m := p.Map()
		assert.Equal(t, "not_detected", m["location_source"])
		assert.Equal(t, "Not detected", m["location_city"])
	})

	t.Run("FieldOrder", func(t *testing.T) {
		p := relay.BuildPayload(models.Submission{Name: "Ada", Timestamp: stamp}, relay.Metadata{})
		require.Len(t, p, 4)
		assert.Equal(t, "name", p[0].Key)
		assert.Equal(t, "timestamp", p[1].Key)
		_, ok := p.Get("_subject")
		assert.False(t, ok)
	})
}

func submission() models.Submission {
	return models.Submission{
		Name:      "Ada Lovelace",
		Source:    models.SourceIP,
		Timestamp: stamp,
		Location:  &models.Location{City: "London", Region: "England", Country: "United Kingdom", IP: "203.0.113.9"},
	}
}

func TestSubmitForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Ada Lovelace", r.FormValue("name"))
		assert.Equal(t, "London", r.FormValue("location_city"))
		assert.Equal(t, "ip_detection", r.FormValue("location_source"))
		assert.Equal(t, "🎄 Christmas Surprise Request", r.FormValue("_subject"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"next":"/thanks","ok":true}`))
	}))
	defer server.Close()

	client := relay.NewClient(relay.Options{Endpoint: server.URL, Timeout: time.Second, Metadata: meta})
	res := client.Submit(context.Background(), submission())

	assert.True(t, res.Success)
	assert.Equal(t, relay.MessageSuccess, res.Message)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSubmitJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ada Lovelace", body["name"])
		assert.Equal(t, "England", body["location_region"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := relay.NewClient(relay.Options{Endpoint: server.URL, Encoding: relay.EncodingJSON, Timeout: time.Second})
	res := client.Submit(context.Background(), submission())
	assert.True(t, res.Success)
}

func TestSubmitRejected(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
	}{
		{"JSONError", http.StatusBadRequest, "application/json", `{"error":"Form not found"}`, "Form not found"},
		{"JSONErrors", http.StatusUnprocessableEntity, "application/json",
			`{"errors":[{"field":"email","message":"should be an email"},{"message":"too many fields"}]}`,
			"should be an email; too many fields"},
		{"HTMLHeading", http.StatusForbidden, "text/html; charset=utf-8",
			`<html><head><title>Formspree</title></head><body><h1>  Form   disabled </h1></body></html>`, "Form disabled"},
		{"HTMLTitleOnly", http.StatusInternalServerError, "text/html", `<html><head><title>Server Error</title></head></html>`, "Server Error"},
		{"EmptyBody", http.StatusBadGateway, "text/plain", ``, relay.MessageFailed},
		{"PlainText", http.StatusBadRequest, "text/plain", `nope`, relay.MessageFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			res := relay.NewClient(relay.Options{Endpoint: server.URL, Timeout: time.Second}).Submit(context.Background(), submission())
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Message)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestSubmitNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	res := relay.NewClient(relay.Options{Endpoint: endpoint, Timeout: time.Second}).Submit(context.Background(), submission())
	assert.False(t, res.Success)
	assert.Equal(t, relay.MessageNetwork, res.Message)
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	res := relay.NewClient(relay.Options{Endpoint: server.URL, Timeout: 50 * time.Millisecond}).Submit(context.Background(), submission())
	assert.False(t, res.Success)
	assert.Equal(t, relay.MessageNetwork, res.Message)
}
