package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Breaker   BreakerConfig             `mapstructure:"breaker"`
	Watchlist []WatchlistItem           `mapstructure:"watchlist"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Archive   ArchiveConfig             `mapstructure:"archive"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

type CacheConfig struct {
	Path            string        `mapstructure:"path"`
	FundamentalsTTL time.Duration `mapstructure:"fundamentals_ttl"`
	QuoteTTL        time.Duration `mapstructure:"quote_ttl"`
	SessionBuffer   time.Duration `mapstructure:"session_buffer"`
}

type ProviderConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	APIKey          string         `mapstructure:"api_key"`
	RateCapacity    int            `mapstructure:"rate_capacity"`
	RefillPerMinute float64        `mapstructure:"refill_per_minute"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	Priorities      map[string]int `mapstructure:"priorities"`
}

type BreakerConfig struct {
	FailureThreshold    int           `mapstructure:"failure_threshold"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	RateLimitedCooldown time.Duration `mapstructure:"rate_limited_cooldown"`
}

type WatchlistItem struct {
	Symbol string `mapstructure:"symbol"`
	Name   string `mapstructure:"name"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ArchiveConfig holds cache snapshot export settings.
type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Cache: CacheConfig{
			Path:            "data/cache.db",
			FundamentalsTTL: 7 * 24 * time.Hour,
			QuoteTTL:        10 * time.Minute,
			SessionBuffer:   30 * time.Minute,
		},
		Providers: map[string]ProviderConfig{
			"yahoo": {
				Enabled:         true,
				RateCapacity:    8,
				RefillPerMinute: 8,
				Priorities:      map[string]int{"quote": 1, "ohlcv": 1},
			},
			"stooq": {
				Enabled:         true,
				RateCapacity:    10,
				RefillPerMinute: 10,
				Priorities:      map[string]int{"quote": 2, "ohlcv": 2},
			},
			"alphavantage": {
				Enabled:         false,
				RateCapacity:    5,
				RefillPerMinute: 5,
				Priorities:      map[string]int{"fundamentals": 1, "ohlcv": 3},
			},
		},
		Breaker: BreakerConfig{
			FailureThreshold:    3,
			Cooldown:            5 * time.Minute,
			RateLimitedCooldown: 15 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Archive: ArchiveConfig{
			Type: "localfs",
			Path: "data/archive",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	// Cache validation
	if c.Cache.Path == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("cache path is required"))
	}
	if c.Cache.FundamentalsTTL < 0 || c.Cache.QuoteTTL < 0 || c.Cache.SessionBuffer < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("cache ttls cannot be negative"))
	}

	// Breaker validation
	if c.Breaker.FailureThreshold < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold))
	}
	if c.Breaker.Cooldown < 0 || c.Breaker.RateLimitedCooldown < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("breaker cooldowns cannot be negative"))
	}

	// Provider validation
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if p.RateCapacity < 1 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("provider %s: rate_capacity must be at least 1, got %d", name, p.RateCapacity))
		}
		if p.RefillPerMinute <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("provider %s: refill_per_minute must be positive, got %f", name, p.RefillPerMinute))
		}
		for cat := range p.Priorities {
			if _, err := core.ParseCategory(cat); err != nil {
				return core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("provider %s: unknown category %q in priorities", name, cat))
			}
		}
	}

	// Archive validation
	switch c.Archive.Type {
	case "", "localfs":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("s3 bucket required when archive type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive type %q", c.Archive.Type))
	}

	return nil
}
