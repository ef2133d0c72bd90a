package geolocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/zepph7/christmas-surprise/pkg/cache"
	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

// ErrProviderFailed wraps every reason a single provider could not answer.
var ErrProviderFailed = errors.New("geolocation provider failed")

type IPLookupOptions struct {
	Providers    []Provider
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Store        cache.Store
}

// IPLookup infers an approximate location from a network address. It never prompts and never fails:
// when every provider is down it answers with models.UnknownLocation().
type IPLookup struct {
	providers []Provider
	client    *http.Client
	store     cache.Store
	group     singleflight.Group

	privateOnce sync.Once
}

func NewIPLookup(opts IPLookupOptions) *IPLookup {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.Logger = logger.Slog()
	rc.HTTPClient.Timeout = opts.Timeout

	return &IPLookup{
		providers: opts.Providers,
		client:    rc.StandardClient(),
		store:     opts.Store,
	}
}

// Lookup resolves ip through the providers in order. Private, loopback and empty addresses
// answer models.UnknownLocation() without contacting a provider.
func (l *IPLookup) Lookup(ctx context.Context, ip string) *models.Location {
	if !util.IsPublicIP(ip) {
		l.privateOnce.Do(func() {
			logger.Warn("Client address %q is not public, IP location is unavailable; check the proxy forwards X-Real-IP or X-Forwarded-For", ip)
		})
		return models.UnknownLocation()
	}
	key := "ip:" + ip

	if l.store != nil {
		cached, found, err := l.store.Get(key)
		if err != nil {
			logger.Warn("IP location cache read failed for %s: %v", key, err)
		} else if found {
			logger.Debug("IP location cache hit for %s", key)
			return &cached
		}
	}

	v, _, _ := l.group.Do(key, func() (any, error) {
		return l.lookupProviders(ctx, ip, key), nil
	})
	loc := *v.(*models.Location)
	return &loc
}

func (l *IPLookup) lookupProviders(ctx context.Context, ip, key string) *models.Location {
	for _, p := range l.providers {
		loc, err := l.query(ctx, p, ip)
		if err != nil {
			logger.Warn("IP location provider %s failed: %v", p.ID, err)
			continue
		}
		logger.Info("Detected location %q via %s", loc.Label(), p.ID)
		if l.store != nil && !loc.IsUnknown() {
			if err := l.store.Set(key, *loc); err != nil {
				logger.Warn("IP location cache write failed for %s: %v", key, err)
			}
		}
		return loc
	}
	logger.Error("All IP location providers failed")
	return models.UnknownLocation()
}

func (l *IPLookup) query(ctx context.Context, p Provider, ip string) (*models.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URLFor(p.URL, ip), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrProviderFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrProviderFailed, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %w", ErrProviderFailed, err)
	}

	loc, err := p.Normalize(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	return loc, nil
}

// Resolve makes IPLookup a Strategy. Failure is reported as not_detected with the sentinel attached.
func (l *IPLookup) Resolve(ctx context.Context, req Request) models.Resolution {
	loc := l.Lookup(ctx, req.ClientIP)
	if loc.IsUnknown() {
		return models.Resolution{
			Location: loc,
			Source:   models.SourceNotDetected,
			Failure:  models.FailureUnknown,
			Message:  util.FirstNonEmpty(loc.Error, models.UnknownLocation().Error),
		}
	}
	return models.Resolution{Location: loc, Source: models.SourceIP}
}
