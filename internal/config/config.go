// Package config holds the relay and connector configuration, read from a
// YAML file and overridden by the command line and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1ureka/accesspoint/internal/assets"
	"github.com/1ureka/accesspoint/internal/proxy"
	"github.com/1ureka/accesspoint/internal/router"
)

// EnvBackend overrides the configured backend when set.
const EnvBackend = "ACCESSPOINT_BACKEND"

// Config stores every relay and connector parameter.
type Config struct {
	Listen            string        `yaml:"listen"`
	Backend           string        `yaml:"backend"`
	InsecureBackend   bool          `yaml:"insecure_backend"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	AllowListFile     string        `yaml:"allowlist_file"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	KeepAliveDelay    time.Duration `yaml:"keepalive_delay"`
	MaxInFlight       int64         `yaml:"max_in_flight"` // 0 = unbounded
	StatsInterval     time.Duration `yaml:"stats_interval"`
	ICEServers        []string      `yaml:"ice_servers"`
	Debug             bool          `yaml:"debug"`

	Assets    Assets    `yaml:"assets"`
	Connector Connector `yaml:"connector"`
}

// Assets configures the companion cache.
type Assets struct {
	Source   string   `yaml:"source"`    // HTTP origin to fetch from
	Dir      string   `yaml:"dir"`       // local directory to read from instead
	CacheDir string   `yaml:"cache_dir"` // persist the cache here; memory-only when empty
	Manifest []string `yaml:"manifest"`
	Reuse    bool     `yaml:"reuse"` // skip fetching when CacheDir already holds a population
}

// Connector configures the embedding side.
type Connector struct {
	Relay        string `yaml:"relay"`         // ws(s)://host/connect
	Origin       string `yaml:"origin"`        // origin declared in the handshake
	PublicOrigin string `yaml:"public_origin"` // origin local requests are mapped onto
	Listen       string `yaml:"listen"`
	Transport    string `yaml:"transport"` // websocket or webrtc
	KeepAlive    bool   `yaml:"keepalive"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:            ":8080",
		Backend:           proxy.DefaultBackend,
		HeartbeatInterval: 100 * time.Millisecond,
		KeepAliveDelay:    router.DefaultKeepAliveDelay,
		StatsInterval:     10 * time.Second,
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		Assets: Assets{
			Manifest: append([]string(nil), assets.DefaultManifest...),
		},
		Connector: Connector{
			Relay:     "ws://127.0.0.1:8080/connect",
			Listen:    "127.0.0.1:8081",
			Transport: "websocket",
		},
	}
}

// Load reads path over the defaults. A missing path means defaults only.
// The environment is applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.HeartbeatInterval <= 0:
		return errors.New("heartbeat_interval must be positive")
	case c.KeepAliveDelay < 0:
		return errors.New("keepalive_delay must not be negative")
	case c.MaxInFlight < 0:
		return errors.New("max_in_flight must not be negative")
	case c.StatsInterval <= 0:
		return errors.New("stats_interval must be positive")
	case c.Connector.Transport != "websocket" && c.Connector.Transport != "webrtc":
		return fmt.Errorf("unknown connector transport %q", c.Connector.Transport)
	}
	return nil
}
