package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/accesspoint/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(config.EnvBackend, "")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1:9000", cfg.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.KeepAliveDelay)
	assert.Zero(t, cfg.MaxInFlight)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Len(t, cfg.Assets.Manifest, 4)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1:9999
backend: https://127.0.0.1:9443
heartbeat_interval: 250ms
keepalive_delay: 5s
max_in_flight: 16
allowed_origins:
  - https://embedder.example
assets:
  dir: ./site
connector:
  transport: webrtc
`), 0644))

	t.Setenv(config.EnvBackend, "")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, "https://127.0.0.1:9443", cfg.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.KeepAliveDelay)
	assert.EqualValues(t, 16, cfg.MaxInFlight)
	assert.Equal(t, []string{"https://embedder.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "./site", cfg.Assets.Dir)
	assert.Len(t, cfg.Assets.Manifest, 4, "unset fields keep their defaults")
	assert.Equal(t, "webrtc", cfg.Connector.Transport)

	t.Setenv(config.EnvBackend, "http://127.0.0.1:7000")
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Backend)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.HeartbeatInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Connector.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.MaxInFlight = -1
	assert.Error(t, cfg.Validate())
}
