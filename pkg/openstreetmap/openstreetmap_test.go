package openstreetmap_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zepph7/christmas-surprise/pkg/cache"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/openstreetmap"
)

const hamburg = `{
  "display_name": "Hamburg, Germany",
  "address": {"city": "Hamburg", "state": "Hamburg", "country": "Germany", "country_code": "de", "postcode": "20095"}
}`

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
}

func TestReverse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "53.550000", r.URL.Query().Get("lat"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(hamburg))
	}))
	defer server.Close()

	store, err := cache.NewBoltStore(filepath.Join(t.TempDir(), "geo.db"), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	r := openstreetmap.NewReverser(server.URL, "test-agent", "en",
		openstreetmap.WithCache(store), openstreetmap.WithBackoff(fastBackoff))

	accuracy := 12.0
	in := models.Location{Latitude: 53.55, Longitude: 9.99, Accuracy: &accuracy}

	t.Run("FillsAddress", func(t *testing.T) {
		out, err := r.Reverse(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "Hamburg", out.City)
		assert.Equal(t, "Hamburg", out.Region)
		assert.Equal(t, "Germany", out.Country)
		assert.Equal(t, "DE", out.CountryCode)
		assert.Equal(t, 53.55, out.Latitude)
		require.NotNil(t, out.Accuracy)
		assert.Equal(t, 12.0, *out.Accuracy)
	})

	t.Run("CacheHit", func(t *testing.T) {
		before := calls.Load()
		out, err := r.Reverse(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "Hamburg", out.City)
		assert.Equal(t, before, calls.Load(), "cached coordinates must not hit nominatim")
	})
}

func TestReverseRetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(hamburg))
	}))
	defer server.Close()

	r := openstreetmap.NewReverser(server.URL, "test-agent", "", openstreetmap.WithBackoff(fastBackoff))
	out, err := r.Reverse(context.Background(), models.Location{Latitude: 53.55, Longitude: 9.99})
	require.NoError(t, err)
	assert.Equal(t, "Hamburg", out.City)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReverseNoAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer server.Close()

	r := openstreetmap.NewReverser(server.URL, "test-agent", "", openstreetmap.WithBackoff(fastBackoff))
	in := models.Location{Latitude: 0.1, Longitude: 0.1}
	out, err := r.Reverse(context.Background(), in)
	require.ErrorIs(t, err, openstreetmap.ErrNoAddress)
	assert.Equal(t, in, out)
}
