package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct{ idle []time.Duration }

func (f *fakeSweeper) Sweep(idle time.Duration) int {
	f.idle = append(f.idle, idle)
	return 2
}

type fakeCleaner struct {
	calls int
	err   error
}

func (f *fakeCleaner) CleanupExpired() (int, error) {
	f.calls++
	return 3, f.err
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(Config{Enabled: true, CronSpec: "every now and then"}, nil, nil)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	sweeper := &fakeSweeper{}
	cleaner := &fakeCleaner{err: errors.New("disk full")}
	s, err := New(Config{Enabled: true, CronSpec: "*/10 * * * *", IdleTTL: time.Minute}, sweeper, cleaner)
	require.NoError(t, err)

	s.RunOnce(time.Minute)
	assert.Equal(t, []time.Duration{time.Minute}, sweeper.idle)
	assert.Equal(t, 1, cleaner.calls)
}

func TestFromEnv(t *testing.T) {
	base := Config{Enabled: true, CronSpec: "*/10 * * * *", IdleTTL: 30 * time.Minute}

	assert.Equal(t, base, FromEnv(base))

	t.Setenv("CHRISTMAS_SCHEDULER_ENABLED", "false")
	t.Setenv("CHRISTMAS_SCHEDULER_CRON", "0 * * * *")
	t.Setenv("CHRISTMAS_SESSIONS_IDLE_TTL", "5m")
	got := FromEnv(base)
	assert.False(t, got.Enabled)
	assert.Equal(t, "0 * * * *", got.CronSpec)
	assert.Equal(t, 5*time.Minute, got.IdleTTL)

	t.Setenv("CHRISTMAS_SESSIONS_IDLE_TTL", "soon")
	assert.Equal(t, 30*time.Minute, FromEnv(base).IdleTTL)
}

func TestReload(t *testing.T) {
	s, err := New(Config{Enabled: true, CronSpec: "*/10 * * * *", IdleTTL: time.Minute}, &fakeSweeper{}, &fakeCleaner{})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.NoError(t, s.Reload())
	assert.Equal(t, "*/10 * * * *", s.GetConfig().CronSpec)

	t.Setenv("CHRISTMAS_SCHEDULER_CRON", "not a spec")
	assert.Error(t, s.Reload())
	assert.Equal(t, "*/10 * * * *", s.GetConfig().CronSpec, "a bad spec keeps the running schedule")

	t.Setenv("CHRISTMAS_SCHEDULER_CRON", "0 3 * * *")
	require.NoError(t, s.Reload())
	assert.Equal(t, "0 3 * * *", s.GetConfig().CronSpec)
}
