package cmds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zepph7/christmas-surprise/pkg/api"
	"github.com/zepph7/christmas-surprise/pkg/cache"
	"github.com/zepph7/christmas-surprise/pkg/celebration"
	"github.com/zepph7/christmas-surprise/pkg/config"
	"github.com/zepph7/christmas-surprise/pkg/geolocation"
	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/metrics"
	"github.com/zepph7/christmas-surprise/pkg/openstreetmap"
	"github.com/zepph7/christmas-surprise/pkg/ratelimit"
	"github.com/zepph7/christmas-surprise/pkg/relay"
	"github.com/zepph7/christmas-surprise/pkg/scheduler"
	"github.com/zepph7/christmas-surprise/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the form page and its API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

// buildStrategy picks device or IP location; warm is non-nil when the IP cache should be preloaded.
func buildStrategy(cfg *config.Config, store cache.Store) (strategy geolocation.Strategy, warm func(context.Context)) {
	if cfg.Location.Strategy == geolocation.StrategyDevice {
		var reverser geolocation.Reverser
		if cfg.Location.Device.ReverseGeocode {
			reverser = openstreetmap.NewReverser(
				cfg.Location.Nominatim.URL,
				cfg.Location.Nominatim.UserAgent,
				cfg.Location.Nominatim.Language,
				openstreetmap.WithCache(store),
			)
		}
		return geolocation.NewDeviceResolver(cfg.PositionOptions(), reverser), nil
	}

	lookup := geolocation.NewIPLookup(geolocation.IPLookupOptions{
		Providers: geolocation.DefaultProviders(cfg.Location.IP.PrimaryURL, cfg.Location.IP.BackupURL),
		Timeout:   cfg.Location.IP.Timeout,
		RetryMax:  cfg.Location.IP.RetryMax,
		Store:     store,
	})
	return lookup, func(ctx context.Context) {
		geolocation.Warmup(ctx, lookup, cfg.Location.IP.Warmup)
	}
}

func newControllerFactory(cfg *config.Config, resolver workflow.LocationResolver, client workflow.Relay) func() *workflow.Controller {
	return func() *workflow.Controller {
		return workflow.NewController(workflow.Options{
			Resolver:       resolver,
			Relay:          client,
			Celebration:    celebration.NewRenderer(cfg.Celebration.Enabled, cfg.Celebration.Duration),
			AdvisoryAfter:  cfg.Location.AdvisoryAfter,
			SuccessDismiss: cfg.Presenter.SuccessDismiss,
			ResetDelay:     cfg.Presenter.ResetDelay,
		})
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.SetLogLevelFromString(cfg.Logging.Level)
	metrics.Init()

	store, err := cache.NewBoltStore(cfg.Cache.Path, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("failed to open location cache: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close location cache: %v", err)
		}
	}()

	strategy, warm := buildStrategy(cfg, store)
	resolver := geolocation.NewResolver(strategy)
	client := relay.NewClient(relay.Options{
		Endpoint: cfg.Relay.Endpoint,
		Encoding: cfg.Relay.Encoding,
		Timeout:  cfg.Relay.Timeout,
		Metadata: relay.Metadata{
			Subject: cfg.Relay.Subject,
			Format:  cfg.Relay.Format,
			ReplyTo: cfg.Relay.ReplyTo,
		},
	})

	sessions := workflow.NewSessions(newControllerFactory(cfg, resolver, client))
	defer sessions.Close()

	sched, err := scheduler.New(scheduler.FromEnv(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		CronSpec: cfg.Scheduler.CronSpec,
		IdleTTL:  cfg.Sessions.IdleTTL,
	}), sessions, store)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	metrics.SetSources(metrics.Sources{
		Cache:     store.GetCacheStatistics,
		Scheduler: func() metrics.SchedulerStats {
			c := sched.GetConfig()
			return metrics.SchedulerStats{Enabled: c.Enabled, CronSpec: c.CronSpec, IdleTTL: c.IdleTTL.String()}
		},
	})
	metrics.SetReloadCallback(func() error {
		if level := os.Getenv(metrics.EnvPrefix + "LOGGING_LEVEL"); level != "" {
			logger.SetLogLevelFromString(level)
		}
		return sched.Reload()
	})

	router, err := api.BuildEcho(logger.Slog(), api.Options{
		Sessions: sessions,
		Client:   api.ClientConfigFrom(cfg),
		RateLimit: ratelimit.Options{
			RedisHost: cfg.RateLimit.RedisHost,
			PerMinute: cfg.RateLimit.SubmitPerMinute,
			FailOpen:  cfg.RateLimit.FailOpen,
		},
		Diagnostics: cfg.AdminListenAddress == "",
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	servers := map[string]*echo.Echo{cfg.ListenAddress: router}
	if cfg.AdminListenAddress != "" {
		servers[cfg.AdminListenAddress] = api.BuildAdmin(logger.Slog())
	}

	g, gctx := errgroup.WithContext(ctx)
	for addr, e := range servers {
		g.Go(func() error {
			logger.Info("Listening on %s", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", addr, err)
			}
			return nil
		})
	}
	if warm != nil {
		g.Go(func() error {
			warm(gctx)
			return nil
		})
	}
	sched.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Got shutdown signal!")
		return shutdown(time.Duration(cfg.GracefulShutdownSecs)*time.Second, sched, servers)
	})

	return g.Wait()
}

func shutdown(grace time.Duration, sched *scheduler.Scheduler, servers map[string]*echo.Echo) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	sched.Stop()

	var errs error
	for addr, e := range servers {
		if err := e.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to shutdown server on %s gracefully: %w", addr, err))
		}
	}
	return errs
}
