package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zepph7/christmas-surprise/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "christmas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, "127.0.0.1:8081", cfg.AdminListenAddress)
	assert.Equal(t, config.DefaultRelayEndpoint, cfg.Relay.Endpoint)
	assert.Equal(t, "form", cfg.Relay.Encoding)
	assert.Equal(t, "ip", cfg.Location.Strategy)
	assert.Equal(t, 10*time.Second, cfg.Location.Device.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Location.Device.MaximumAge)
	assert.Equal(t, 8*time.Second, cfg.Presenter.SuccessDismiss)
	assert.Equal(t, 8*time.Second, cfg.Presenter.ResetDelay)
	assert.Equal(t, 5*time.Second, cfg.Celebration.Duration)
	assert.True(t, cfg.Celebration.Enabled)

	opts := cfg.PositionOptions()
	assert.Equal(t, int64(10000), opts.Timeout)
	assert.Equal(t, int64(300000), opts.MaximumAge)
	assert.True(t, opts.EnableHighAccuracy)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
relay:
  encoding: json
location:
  strategy: device
  device:
    timeout: 15s
    maximum_age: 0s
presenter:
  success_dismiss: 5s
`)
	t.Setenv("CHRISTMAS_RELAY_ENDPOINT", "https://relay.example.com/f/abc")
	t.Setenv("CHRISTMAS_LISTEN_ADDRESS", ":9999")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Relay.Encoding)
	assert.Equal(t, "https://relay.example.com/f/abc", cfg.Relay.Endpoint)
	assert.Equal(t, ":9999", cfg.ListenAddress)
	assert.Equal(t, "device", cfg.Location.Strategy)
	assert.Equal(t, 15*time.Second, cfg.Location.Device.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Location.Device.MaximumAge)
	assert.Equal(t, 5*time.Second, cfg.Presenter.SuccessDismiss)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"Encoding": "relay:\n  encoding: xml\n",
		"Strategy": "location:\n  strategy: gps\n",
		"Timeout":  "location:\n  device:\n    timeout: 30s\n",
		"MaxAge":   "location:\n  device:\n    maximum_age: 10m\n",
		"Dismiss":  "presenter:\n  success_dismiss: 2s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
