package api

import (
	"errors"
	"expvar"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"

	"github.com/zepph7/christmas-surprise/pkg/config"
	"github.com/zepph7/christmas-surprise/pkg/metrics"
	"github.com/zepph7/christmas-surprise/pkg/models"
	"github.com/zepph7/christmas-surprise/pkg/ratelimit"
	"github.com/zepph7/christmas-surprise/pkg/validation"
	"github.com/zepph7/christmas-surprise/pkg/web"
	"github.com/zepph7/christmas-surprise/pkg/workflow"
)

// ClientConfig is what the page needs to know before the first interaction.
type ClientConfig struct {
	Strategy         string                 `json:"strategy"`
	PositionOptions  models.PositionOptions `json:"position_options"`
	AdvisoryAfterMs  int64                  `json:"advisory_after_ms"`
	SuccessDismissMs int64                  `json:"success_dismiss_ms"`
	ResetDelayMs     int64                  `json:"reset_delay_ms"`
	CelebrationMs    int64                  `json:"celebration_ms"`
}

func ClientConfigFrom(cfg *config.Config) ClientConfig {
	celebrationMs := int64(0)
	if cfg.Celebration.Enabled {
		celebrationMs = cfg.Celebration.Duration.Milliseconds()
	}
	return ClientConfig{
		Strategy:         cfg.Location.Strategy,
		PositionOptions:  cfg.PositionOptions(),
		AdvisoryAfterMs:  cfg.Location.AdvisoryAfter.Milliseconds(),
		SuccessDismissMs: cfg.Presenter.SuccessDismiss.Milliseconds(),
		ResetDelayMs:     cfg.Presenter.ResetDelay.Milliseconds(),
		CelebrationMs:    celebrationMs,
	}
}

type Options struct {
	Sessions *workflow.Sessions
	Client   ClientConfig
	// RateLimit applies to POST /api/submit; a PerMinute of 0 turns it off.
	RateLimit ratelimit.Options
	// Diagnostics mounts the read-only /stats and /debug/vars on the public router.
	// /admin/env is only ever served by BuildAdmin.
	Diagnostics bool
}

// renderErrors hands errors to the error handler right away so the metrics middleware sees the final status.
func renderErrors(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := next(c); err != nil {
			c.Error(err)
		}
		return nil
	}
}

func newEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	validate := validation.New()
	e.Validator = &validate

	e.Use(
		slogecho.NewWithConfig(logger, slogecho.Config{}),
		echo.WrapMiddleware(metrics.Instrument),
		renderErrors,
		middleware.Recover(),
	)
	return e
}

func BuildEcho(logger *slog.Logger, opts Options) (*echo.Echo, error) {
	if opts.Sessions == nil {
		return nil, errors.New("api: sessions are required")
	}

	e := newEcho(logger)
	e.Use(middleware.CORS(), sessionMiddleware)

	e.GET("/*", echo.WrapHandler(web.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	h := &handlers{sessions: opts.Sessions, client: opts.Client}
	g := e.Group("/api")
	g.GET("/config", h.config)
	g.GET("/view", h.view)
	g.POST("/name", h.name)
	g.POST("/location", h.location)
	g.POST("/submit", h.submit, submitLimiter(opts.RateLimit)...)

	if opts.Diagnostics {
		registerDiagnostics(e, false)
	}

	return e, nil
}

// BuildAdmin serves only the diagnostics endpoints, for a listener bound to localhost.
func BuildAdmin(logger *slog.Logger) *echo.Echo {
	e := newEcho(logger)
	registerDiagnostics(e, true)
	return e
}

func registerDiagnostics(e *echo.Echo, env bool) {
	metrics.Init()
	e.GET(metrics.StatsPath, echo.WrapHandler(http.HandlerFunc(metrics.StatsHandler)))
	e.GET(metrics.DebugVarsPath, echo.WrapHandler(expvar.Handler()))
	if !env {
		return
	}
	e.Match([]string{http.MethodGet, http.MethodPost}, metrics.EnvPath, echo.WrapHandler(http.HandlerFunc(metrics.EnvHandler)))
}

func submitLimiter(opts ratelimit.Options) []echo.MiddlewareFunc {
	if opts.PerMinute <= 0 {
		return nil
	}
	if opts.LimiterKey == "" {
		opts.LimiterKey = "submit"
	}
	// Keyed by client address: a session cookie is free to drop.
	opts.Identifier = func(c echo.Context) (string, error) {
		return c.RealIP(), nil
	}
	return []echo.MiddlewareFunc{
		middleware.RateLimiterWithConfig(ratelimit.MiddlewareConfig(ratelimit.NewStore(opts), opts)),
	}
}
