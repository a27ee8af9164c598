// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every knob, loaded from file and VENUECRAWL_* env vars.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Block     BlockConfig     `mapstructure:"block"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Events    EventsConfig    `mapstructure:"events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// OpsConfig controls the health/metrics/progress listener.
type OpsConfig struct {
	Addr string `mapstructure:"addr"`
}

// CrawlConfig governs run and per-task behavior.
type CrawlConfig struct {
	Workers           int `mapstructure:"workers"`
	StartIndex        int `mapstructure:"start_index"`
	EndIndex          int `mapstructure:"end_index"`
	SummaryEvery      int `mapstructure:"summary_every"`
	Retries           int `mapstructure:"retries"`
	BackoffBaseSec    int `mapstructure:"backoff_base_seconds"`
	BackoffMaxSec     int `mapstructure:"backoff_max_seconds"`
	NavTimeoutSec     int `mapstructure:"nav_timeout_seconds"`
	PauseMinSec       int `mapstructure:"pause_min_seconds"`
	PauseMaxSec       int `mapstructure:"pause_max_seconds"`
	MaxLoadMoreClicks int `mapstructure:"max_load_more_clicks"`
}

// RateLimitConfig is the fixed admission window shared by all workers.
type RateLimitConfig struct {
	Requests  int `mapstructure:"requests"`
	WindowSec int `mapstructure:"window_seconds"`
}

// BlockConfig controls the cross-process block flag.
type BlockConfig struct {
	FlagPath       string `mapstructure:"flag_path"`
	CooldownMinSec int    `mapstructure:"cooldown_min_seconds"`
	CooldownMaxSec int    `mapstructure:"cooldown_max_seconds"`
}

// AuthConfig points at the exported session cookies.
type AuthConfig struct {
	CookieFile        string `mapstructure:"cookie_file"`
	VerifyURL         string `mapstructure:"verify_url"`
	LoggedInSelector  string `mapstructure:"logged_in_selector"`
	LoginFormSelector string `mapstructure:"login_form_selector"`
}

// BrowserConfig controls the shared Chrome process.
type BrowserConfig struct {
	Headless  bool    `mapstructure:"headless"`
	DomainQPS float64 `mapstructure:"domain_qps"`
}

// StorageConfig selects and configures the result store.
type StorageConfig struct {
	// Provider is "file" or "postgres".
	Provider string                `mapstructure:"provider"`
	File     FileStorageConfig     `mapstructure:"file"`
	Postgres PostgresStorageConfig `mapstructure:"postgres"`
}

// FileStorageConfig configures the filesystem store.
type FileStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PostgresStorageConfig configures the Postgres store.
type PostgresStorageConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSec int    `mapstructure:"max_conn_lifetime_seconds"`
}

// SnapshotsConfig selects where block-page captures land.
type SnapshotsConfig struct {
	// Provider is "local", "gcs" or "noop".
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// EventsConfig selects the run-event publisher.
type EventsConfig struct {
	// Provider is "pubsub" or "noop".
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VENUECRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("logging.development", true)
	v.SetDefault("ops.addr", ":9090")
	v.SetDefault("crawl.workers", 2)
	v.SetDefault("crawl.start_index", 0)
	v.SetDefault("crawl.summary_every", 5)
	v.SetDefault("crawl.retries", 3)
	v.SetDefault("crawl.backoff_base_seconds", 5)
	v.SetDefault("crawl.backoff_max_seconds", 60)
	v.SetDefault("crawl.nav_timeout_seconds", 60)
	v.SetDefault("crawl.pause_min_seconds", 15)
	v.SetDefault("crawl.pause_max_seconds", 25)
	v.SetDefault("crawl.max_load_more_clicks", 20)
	v.SetDefault("rate_limit.requests", 30)
	v.SetDefault("rate_limit.window_seconds", 3600)
	v.SetDefault("block.flag_path", "blocked.flag")
	v.SetDefault("block.cooldown_min_seconds", 120)
	v.SetDefault("block.cooldown_max_seconds", 300)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.domain_qps", 0.5)
	v.SetDefault("storage.provider", "file")
	v.SetDefault("storage.file.base_dir", "data")
	v.SetDefault("snapshots.provider", "local")
	v.SetDefault("snapshots.base_dir", "data/snapshots")
	v.SetDefault("events.provider", "noop")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.Retries <= 0 {
		return fmt.Errorf("crawl.retries must be > 0")
	}
	if c.Crawl.NavTimeoutSec <= 0 {
		return fmt.Errorf("crawl.nav_timeout_seconds must be > 0")
	}
	if c.Crawl.PauseMaxSec < c.Crawl.PauseMinSec {
		return fmt.Errorf("crawl.pause_max_seconds must be >= crawl.pause_min_seconds")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be > 0")
	}
	if c.RateLimit.WindowSec <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be > 0")
	}
	if c.Block.CooldownMaxSec < c.Block.CooldownMinSec {
		return fmt.Errorf("block.cooldown_max_seconds must be >= block.cooldown_min_seconds")
	}
	switch c.Storage.Provider {
	case "file":
		if c.Storage.File.BaseDir == "" {
			return fmt.Errorf("storage.file.base_dir is required")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("storage.provider must be file or postgres, got %q", c.Storage.Provider)
	}
	switch c.Snapshots.Provider {
	case "local":
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir is required")
		}
	case "gcs":
		if c.Snapshots.Bucket == "" {
			return fmt.Errorf("snapshots.bucket is required for gcs snapshots")
		}
	case "noop":
	default:
		return fmt.Errorf("snapshots.provider must be local, gcs or noop, got %q", c.Snapshots.Provider)
	}
	switch c.Events.Provider {
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required for pubsub")
		}
	case "noop":
	default:
		return fmt.Errorf("events.provider must be pubsub or noop, got %q", c.Events.Provider)
	}
	return nil
}

// NavTimeout returns the per-attempt navigation budget.
func (c CrawlConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// BackoffBase returns the first retry delay.
func (c CrawlConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec) * time.Second
}

// BackoffMax returns the retry delay ceiling.
func (c CrawlConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSec) * time.Second
}

// PauseMin returns the lower bound of the inter-task pause.
func (c CrawlConfig) PauseMin() time.Duration {
	return time.Duration(c.PauseMinSec) * time.Second
}

// PauseMax returns the upper bound of the inter-task pause.
func (c CrawlConfig) PauseMax() time.Duration {
	return time.Duration(c.PauseMaxSec) * time.Second
}

// MaxConnLifetime returns the pool connection lifetime bound.
func (c PostgresStorageConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeSec) * time.Second
}

// Window returns the admission window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// CooldownMin returns the lower block-cooldown bound.
func (c BlockConfig) CooldownMin() time.Duration {
	return time.Duration(c.CooldownMinSec) * time.Second
}

// CooldownMax returns the upper block-cooldown bound.
func (c BlockConfig) CooldownMax() time.Duration {
	return time.Duration(c.CooldownMaxSec) * time.Second
}
