package geolocation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zepph7/christmas-surprise/pkg/cache"
	"github.com/zepph7/christmas-surprise/pkg/geolocation"
	"github.com/zepph7/christmas-surprise/pkg/models"
)

const ipapiBody = `{"ip":"203.0.113.7","city":"Oslo","region":"Oslo","country_name":"Norway","country_code":"NO",
"postal":"0150","latitude":59.91,"longitude":10.75,"timezone":"Europe/Oslo","org":"AS1 Example"}`

const geolocationDBBody = `{"IPv4":"","city":"Bergen","state":"Vestland","country_name":"Norway","country_code":"NO",
"latitude":60.39,"longitude":5.32}`

type fakeProvider struct {
	server *httptest.Server
	calls  atomic.Int32
	paths  chan string
}

func newFakeProvider(t *testing.T, status int, body string) *fakeProvider {
	t.Helper()
	f := &fakeProvider{paths: make(chan string, 10)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		select {
		case f.paths <- r.URL.Path:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newLookup(primary, backup *fakeProvider, store cache.Store) *geolocation.IPLookup {
	return geolocation.NewIPLookup(geolocation.IPLookupOptions{
		Providers:    geolocation.DefaultProviders(primary.server.URL+"/json/", backup.server.URL+"/json/"),
		Timeout:      2 * time.Second,
		RetryMax:     0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
		Store:        store,
	})
}

func TestLookupPrimary(t *testing.T) {
	primary := newFakeProvider(t, http.StatusOK, ipapiBody)
	backup := newFakeProvider(t, http.StatusOK, geolocationDBBody)

	loc := newLookup(primary, backup, nil).Lookup(context.Background(), "203.0.113.7")

	assert.Equal(t, "Oslo", loc.City)
	assert.Equal(t, "Norway", loc.Country)
	assert.Equal(t, "Europe/Oslo", loc.Timezone)
	assert.Equal(t, 59.91, loc.Latitude)
	assert.Equal(t, "/203.0.113.7/json/", <-primary.paths)
	assert.Zero(t, backup.calls.Load())
}

func TestLookupFallsBackToBackup(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"ServerError", http.StatusInternalServerError, `{}`},
		{"RateLimited", http.StatusTooManyRequests, `{"error":true,"reason":"RateLimited"}`},
		{"ErrorFlag", http.StatusOK, `{"error":true,"reason":"Reserved IP Address"}`},
		{"Garbage", http.StatusOK, `<html>`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			primary := newFakeProvider(t, tc.status, tc.body)
			backup := newFakeProvider(t, http.StatusOK, geolocationDBBody)

			loc := newLookup(primary, backup, nil).Lookup(context.Background(), "198.51.100.4")

			assert.Equal(t, "Bergen", loc.City)
			assert.Equal(t, "Vestland", loc.Region)
			assert.Equal(t, "Unknown", loc.IP, "empty IPv4 from the backup reads as Unknown")
			assert.Equal(t, "/json/198.51.100.4", <-backup.paths)
		})
	}
}

func TestLookupBothFail(t *testing.T) {
	primary := newFakeProvider(t, http.StatusBadGateway, `{}`)
	backup := newFakeProvider(t, http.StatusServiceUnavailable, `{}`)

	loc := newLookup(primary, backup, nil).Lookup(context.Background(), "198.51.100.4")
	assert.Equal(t, models.UnknownLocation(), loc)
}

func TestLookupNonPublicAddressIsUnknown(t *testing.T) {
	primary := newFakeProvider(t, http.StatusOK, ipapiBody)
	backup := newFakeProvider(t, http.StatusOK, geolocationDBBody)
	lookup := newLookup(primary, backup, nil)

	for _, ip := range []string{"127.0.0.1", "10.0.0.8", "192.168.1.20", "::1", ""} {
		assert.Equal(t, models.UnknownLocation(), lookup.Lookup(context.Background(), ip), ip)
	}
	assert.Zero(t, primary.calls.Load())
	assert.Zero(t, backup.calls.Load())

	res := lookup.Resolve(context.Background(), geolocation.Request{ClientIP: "10.0.0.8"})
	assert.Equal(t, models.SourceNotDetected, res.Source)
	assert.False(t, res.Usable())
}

func TestLookupCache(t *testing.T) {
	store, err := cache.NewBoltStore(filepath.Join(t.TempDir(), "ip.db"), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	primary := newFakeProvider(t, http.StatusOK, ipapiBody)
	backup := newFakeProvider(t, http.StatusOK, geolocationDBBody)
	lookup := newLookup(primary, backup, store)

	first := lookup.Lookup(context.Background(), "203.0.113.7")
	second := lookup.Lookup(context.Background(), "203.0.113.7")

	assert.Equal(t, first.City, second.City)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Zero(t, backup.calls.Load())

	res := lookup.Resolve(context.Background(), geolocation.Request{ClientIP: "203.0.113.7"})
	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "cached_at")
	assert.Zero(t, second.CachedAt)
}

func TestIPLookupResolve(t *testing.T) {
	t.Run("Detected", func(t *testing.T) {
		primary := newFakeProvider(t, http.StatusOK, ipapiBody)
		backup := newFakeProvider(t, http.StatusOK, geolocationDBBody)

		res := newLookup(primary, backup, nil).Resolve(context.Background(), geolocation.Request{ClientIP: "203.0.113.7"})
		assert.Equal(t, models.SourceIP, res.Source)
		assert.Equal(t, models.FailureNone, res.Failure)
		assert.True(t, res.Usable())
	})

	t.Run("NotDetected", func(t *testing.T) {
		primary := newFakeProvider(t, http.StatusInternalServerError, `{}`)
		backup := newFakeProvider(t, http.StatusInternalServerError, `{}`)

		res := newLookup(primary, backup, nil).Resolve(context.Background(), geolocation.Request{ClientIP: "203.0.113.7"})
		assert.Equal(t, models.SourceNotDetected, res.Source)
		assert.Equal(t, models.FailureUnknown, res.Failure)
		assert.Equal(t, "Could not detect location automatically", res.Message)
		assert.False(t, res.Usable())
	})
}

func TestWarmupFillsCache(t *testing.T) {
	primary := newFakeProvider(t, http.StatusOK, ipapiBody)
	backup := newFakeProvider(t, http.StatusInternalServerError, `{}`)
	store, err := cache.NewBoltStore(filepath.Join(t.TempDir(), "warm.db"), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	lookup := newLookup(primary, backup, store)
	assert.Equal(t, 0, geolocation.Warmup(context.Background(), lookup, nil))
	assert.Equal(t, 1, geolocation.Warmup(context.Background(), lookup, []string{"203.0.113.7", "10.0.0.8"}))
	assert.Equal(t, int32(1), primary.calls.Load())

	_, found, err := store.Get("ip:203.0.113.7")
	require.NoError(t, err)
	assert.True(t, found)
}
