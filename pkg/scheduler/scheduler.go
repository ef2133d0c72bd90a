package scheduler

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/util"
)

type Config struct {
	Enabled  bool
	CronSpec string        // e.g. "*/10 * * * *" (server local time)
	IdleTTL  time.Duration // sessions untouched for longer are dropped
}

// Sweeper drops idle form sessions.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// Cleaner drops expired cache entries.
type Cleaner interface {
	CleanupExpired() (int, error)
}

type Scheduler struct {
	mu       sync.Mutex
	c        *cron.Cron
	config   Config
	sessions Sweeper
	cache    Cleaner
}

// FromEnv overlays CHRISTMAS_SCHEDULER_* and CHRISTMAS_SESSIONS_IDLE_TTL onto base.
func FromEnv(base Config) Config {
	cfg := base
	switch os.Getenv("CHRISTMAS_SCHEDULER_ENABLED") {
	case "true", "1":
		cfg.Enabled = true
	case "false", "0":
		cfg.Enabled = false
	}
	cfg.CronSpec = util.FirstNonEmpty(os.Getenv("CHRISTMAS_SCHEDULER_CRON"), base.CronSpec)
	if raw := os.Getenv("CHRISTMAS_SESSIONS_IDLE_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.IdleTTL = d
		} else {
			logger.Warn("Ignoring invalid CHRISTMAS_SESSIONS_IDLE_TTL %q", raw)
		}
	}
	return cfg
}

func New(cfg Config, sessions Sweeper, cache Cleaner) (*Scheduler, error) {
	s := &Scheduler{config: cfg, sessions: sessions, cache: cache}
	c, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

// build creates a cron with the maintenance job; standard 5-field spec in server local time.
func (s *Scheduler) build(cfg Config) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(cfg.CronSpec, func() { s.RunOnce(cfg.IdleTTL) }); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", cfg.CronSpec, err)
	}
	return c, nil
}

// RunOnce sweeps idle sessions and expired cache entries.
func (s *Scheduler) RunOnce(idle time.Duration) {
	logger.Debug("Scheduler tick: running maintenance")
	swept := 0
	if s.sessions != nil {
		swept = s.sessions.Sweep(idle)
	}
	removed := 0
	if s.cache != nil {
		var err error
		removed, err = s.cache.CleanupExpired()
		if err != nil {
			logger.Error("Scheduler cache cleanup failed: %v", err)
		}
	}
	logger.Info("Scheduler maintenance done, sessions swept: %d, cache entries removed: %d", swept, removed)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.config.Enabled {
		logger.Info("Scheduler disabled")
		return
	}
	logger.Info("Starting scheduler (cron=%s, idle_ttl=%s)", s.config.CronSpec, s.config.IdleTTL)
	s.c.Start()
}

// Stop halts the cron and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	<-c.Stop().Done()
}

// Reload re-reads the environment and restarts the cron if anything changed
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newConfig := FromEnv(s.config)
	if newConfig == s.config {
		logger.Info("Scheduler configuration unchanged, no restart needed")
		return nil
	}

	c, err := s.build(newConfig)
	if err != nil {
		return err
	}

	s.c.Stop()
	logger.Info("Stopped scheduler for configuration reload")
	s.c = c
	s.config = newConfig

	if newConfig.Enabled {
		s.c.Start()
		logger.Info("Scheduler restarted with new configuration (cron=%s, idle_ttl=%s)",
			newConfig.CronSpec, newConfig.IdleTTL)
	} else {
		logger.Info("Scheduler disabled via configuration reload")
	}
	return nil
}

// GetConfig returns the current scheduler configuration
func (s *Scheduler) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}
