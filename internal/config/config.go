// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/offlinesw/internal/assets"
	"github.com/briangreenhill/offlinesw/internal/pending"
	"github.com/briangreenhill/offlinesw/store"
)

// Config holds all application configuration
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// UpstreamURL is the static site origin; origin-form requests resolve against it.
	UpstreamURL string `env:"UPSTREAM_URL" envDefault:"http://localhost:8000"`
	// APIBaseURL is the restaurant API; its GETs are served stale-while-revalidate.
	// Clients reach it through the proxy, which refuses CONNECT, so it stays on http.
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://mws-restaurants-stage-3.herokuapp.com"`
	// LocalAPIHost is the host whose GETs use the cache-first strategy.
	// It must differ from the API host or API responses would never refresh.
	LocalAPIHost string `env:"LOCAL_API_HOST" envDefault:"localhost"`

	StaticCache  string   `env:"STATIC_CACHE" envDefault:"restaurant-static"`
	CachePrefix  string   `env:"CACHE_PREFIX" envDefault:"restaurant-"`
	StaticAssets []string `env:"STATIC_ASSETS" envSeparator:","`

	DataDir       string `env:"DATA_DIR" envDefault:"./data"`
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabaseURL   string `env:"DATABASE_URL"`
	PendingPolicy string `env:"PENDING_POLICY" envDefault:"queue"`

	RedisAddr string `env:"REDIS_ADDR"`

	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"15s"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasRedis reports whether replays go through asynq.
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// Manifest returns the static assets to cache at install.
func (c *Config) Manifest() []string {
	if len(c.StaticAssets) == 0 {
		return assets.DefaultManifest()
	}
	return c.StaticAssets
}

// StoreOptions returns the options for store.NewBackend.
func (c *Config) StoreOptions() store.Options {
	return store.Options{Dir: c.DataDir, DSN: c.DatabaseURL}
}

// Validate checks that values are usable together.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"UPSTREAM_URL": c.UpstreamURL, "API_BASE_URL": c.APIBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if api, _ := url.Parse(c.APIBaseURL); strings.EqualFold(api.Hostname(), c.LocalAPIHost) {
		return fmt.Errorf("API_BASE_URL host %q must differ from LOCAL_API_HOST", api.Hostname())
	}
	if c.StaticCache == "" {
		return fmt.Errorf("STATIC_CACHE must not be empty")
	}
	if c.CachePrefix != "" && !strings.HasPrefix(c.StaticCache, c.CachePrefix) {
		return fmt.Errorf("STATIC_CACHE %q must start with CACHE_PREFIX %q", c.StaticCache, c.CachePrefix)
	}
	switch c.StoreDriver {
	case store.DriverSQLite, store.DriverFile, store.DriverMemory:
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if _, err := pending.ParsePolicy(c.PendingPolicy); err != nil {
		return fmt.Errorf("PENDING_POLICY: %w", err)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("PROBE_INTERVAL must be positive, got %s", c.ProbeInterval)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
