// Package config loads and validates feed-finder configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/feed-finder/internal/state"
)

// EnvPrefix namespaces environment overrides, e.g. FEEDFINDER_CRAWLER_CONCURRENCY.
const EnvPrefix = "FEEDFINDER"

// Config captures all configuration knobs of a crawl run.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	State    StateConfig    `mapstructure:"state"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// CrawlerConfig bounds task concurrency.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	PerHost     int `mapstructure:"per_host"`
}

// HTTPConfig holds connection timeouts.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

// FetchConfig shapes every outgoing request.
type FetchConfig struct {
	MaxBodyBytes int               `mapstructure:"max_body_bytes"`
	Headers      map[string]string `mapstructure:"headers"`
}

// StateConfig locates the seen-domain snapshot.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the operator HTTP endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// PostgresConfig enables the row mirror when DSN is set.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"state":        "state.path",
	"concurrency":  "crawler.concurrency",
	"per-host":     "crawler.per_host",
	"metrics-addr": "metrics.addr",
	"log-level":    "logging.level",
}

// Load builds a Config from defaults, an optional file, the environment, and
// any flags in flags that were bound to a key.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 100)
	v.SetDefault("crawler.per_host", 1)
	v.SetDefault("http.connect_timeout", 10*time.Second)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.session_timeout", 3600*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.headers", map[string]string{
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	})
	v.SetDefault("state.path", state.DefaultPath)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.table", "feed_records")
	v.SetDefault("postgres.max_conns", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerHost <= 0 {
		return fmt.Errorf("crawler.per_host must be > 0")
	}
	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.ReadTimeout <= 0 || c.HTTP.SessionTimeout <= 0 {
		return fmt.Errorf("http timeouts must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if strings.TrimSpace(c.State.Path) == "" {
		return fmt.Errorf("state.path is required")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Postgres.DSN != "" && c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("postgres.max_conns must be > 0 when postgres.dsn is set")
	}
	return nil
}

// RequestHeaders returns fetch.headers in canonical form. Viper lower-cases map
// keys, so canonicalization restores the conventional spelling.
func (c Config) RequestHeaders() http.Header {
	h := make(http.Header, len(c.Fetch.Headers))
	for k, val := range c.Fetch.Headers {
		h.Set(http.CanonicalHeaderKey(k), val)
	}
	return h
}
