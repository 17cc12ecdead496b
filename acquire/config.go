package acquire

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/browser"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/navigate"
	"github.com/notbrokker/notbrokker-property-api-sub001/cache"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
)

// Config is the acquisition service configuration.
type Config struct {
	Browser    browser.Config  `yaml:"browser"`
	Navigation navigate.Config `yaml:"navigation"`
	Cache      CacheConfig     `yaml:"cache"`
	HTTP       HTTPConfig      `yaml:"http"`

	// MaxConcurrent bounds simultaneous browser sessions. Default 4.
	MaxConcurrent int `yaml:"max_concurrent"`

	// SearchLimit is the default number of search items. Default 20.
	SearchLimit int `yaml:"search_limit"`

	// AllowPrivateHosts lets URLs resolve to private addresses.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`

	// Registry overrides the embedded portal profiles.
	Registry *portal.Registry `yaml:"-"`
	// Registerer receives service and cache metrics. Nil skips registration.
	Registerer prometheus.Registerer `yaml:"-"`
	Logger     *slog.Logger          `yaml:"-"`
}

// CacheConfig configures the cache layer.
type CacheConfig struct {
	LocalSize    int                      `yaml:"local_size"`
	TTLs         map[string]time.Duration `yaml:"ttls"`
	DefaultTTL   time.Duration            `yaml:"default_ttl"`
	WriteTimeout time.Duration            `yaml:"write_timeout"`
	Distributed  DistributedConfig        `yaml:"distributed"`
}

// DistributedConfig selects the optional distributed cache tier.
type DistributedConfig struct {
	// Backend is "redis", "sqlite" or "none" (default).
	Backend    string            `yaml:"backend"`
	Redis      cache.RedisConfig `yaml:"redis"`
	SQLitePath string            `yaml:"sqlite_path"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// RatePerMinute is the per-client request budget. Default 30.
	RatePerMinute int `yaml:"rate_per_minute"`
	// Burst is the token bucket size. Default 10.
	Burst int `yaml:"burst"`
}

func (c *Config) defaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 20
	}
	if c.Registry == nil {
		c.Registry = portal.Default()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Navigation.Logger == nil {
		c.Navigation.Logger = c.Logger
	}
	if c.Browser.Logger == nil {
		c.Browser.Logger = c.Logger
	}
	if c.Cache.Distributed.Backend == "" {
		c.Cache.Distributed.Backend = "none"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.RatePerMinute <= 0 {
		c.HTTP.RatePerMinute = 30
	}
	if c.HTTP.Burst <= 0 {
		c.HTTP.Burst = 10
	}
}

// LoadConfigFile reads a YAML configuration file. Missing fields keep
// their defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("acquire: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("acquire: parse config %s: %w", path, err)
	}
	switch cfg.Cache.Distributed.Backend {
	case "", "none", "redis", "sqlite":
	default:
		return Config{}, fmt.Errorf("acquire: unknown cache backend %q", cfg.Cache.Distributed.Backend)
	}
	cfg.defaults()
	return cfg, nil
}

func (c Config) cacheConfig(tier cache.Tier) cache.Config {
	return cache.Config{
		LocalSize:    c.Cache.LocalSize,
		TTLs:         c.Cache.TTLs,
		DefaultTTL:   c.Cache.DefaultTTL,
		WriteTimeout: c.Cache.WriteTimeout,
		Distributed:  tier,
		Registerer:   c.Registerer,
		Logger:       c.Logger,
	}
}
