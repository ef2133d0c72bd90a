package geolocation

import (
	"context"
	"sync"

	"github.com/zepph7/christmas-surprise/pkg/logger"
)

// Warmup preloads the IP location cache for the given ips.
// It reuses the same code path as a lookup, so the results are cached the same way.
// It returns how many addresses resolved to a known city.
func Warmup(ctx context.Context, lookup *IPLookup, targets []string) int {
	if len(targets) == 0 {
		return 0
	}

	logger.Info("Warmup: resolving %d addresses", len(targets))

	var total int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ip := range targets {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()

			loc := lookup.Lookup(ctx, ip)
			if loc.IsUnknown() {
				logger.Warn("Warmup: no location for %q", ip)
				return
			}
			mu.Lock()
			total++
			mu.Unlock()
		}(ip)
	}
	wg.Wait()

	logger.Info("Warmup finished. Locations cached: %d", total)
	return total
}
