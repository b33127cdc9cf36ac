// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. HERITAGE_DB_DSN.
const EnvPrefix = "HERITAGE"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Queue    QueueConfig    `mapstructure:"queue"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the workers and the crawl pipeline.
type CrawlerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	StartURL        string        `mapstructure:"start_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	Delay           time.Duration `mapstructure:"delay"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	AllowedDomains  []string      `mapstructure:"allowed_domains"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	StaleAfterDays  int           `mapstructure:"stale_after_days"`
	EmbeddedWorkers bool          `mapstructure:"embedded_workers"`
	EnqueueTimeout  time.Duration `mapstructure:"enqueue_timeout"`
}

// HTTPConfig configures the plain fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	MaxParallel        int      `mapstructure:"max_parallel"`
	NavTimeoutSec      int      `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int      `mapstructure:"promotion_threshold"`
	RequiredSelectors  []string `mapstructure:"required_selectors"`
}

// QueueConfig selects and configures the work queue backend.
type QueueConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	StartKey      string        `mapstructure:"start_key"`
	RequestKey    string        `mapstructure:"request_key"`
	PopTimeout    time.Duration `mapstructure:"pop_timeout"`
}

// DBConfig selects the task and record store.
type DBConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// StorageConfig selects where raw pages are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	BaseDir     string `mapstructure:"base_dir"`
	ContentType string `mapstructure:"content_type"`
}

// NotifyConfig selects the record change publisher.
type NotifyConfig struct {
	Backend   string   `mapstructure:"backend"`
	Topic     string   `mapstructure:"topic"`
	ProjectID string   `mapstructure:"project_id"`
	Brokers   []string `mapstructure:"brokers"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.start_url", "https://whc.unesco.org/en/list/")
	v.SetDefault("crawler.user_agent", "heritage-crawler/0.1")
	v.SetDefault("crawler.delay", "1s")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.allowed_domains", []string{"whc.unesco.org"})
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.stale_after_days", 30)
	v.SetDefault("crawler.embedded_workers", true)
	v.SetDefault("crawler.enqueue_timeout", "5s")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.required_selectors", []string{"h1"})
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.start_key", "heritage_spider:start_urls")
	v.SetDefault("queue.request_key", "heritage_spider:requests")
	v.SetDefault("queue.pop_timeout", "2s")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.topic", "heritage-records")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if u, err := url.Parse(c.Crawler.StartURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("crawler.start_url must be an http(s) url, got %q", c.Crawler.StartURL))
	}
	if c.Crawler.StaleAfterDays <= 0 {
		errs = append(errs, errors.New("crawler.stale_after_days must be > 0"))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	errs = append(errs, oneOf("queue.backend", c.Queue.Backend, "memory", "redis"))
	if c.Queue.Backend == "redis" && c.Queue.RedisAddr == "" {
		errs = append(errs, errors.New("queue.redis_addr is required for the redis backend"))
	}
	errs = append(errs, oneOf("db.backend", c.DB.Backend, "memory", "postgres"))
	if c.DB.Backend == "postgres" && c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required for the postgres backend"))
	}
	errs = append(errs, oneOf("storage.backend", c.Storage.Backend, "none", "memory", "local", "gcs"))
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required for the gcs backend"))
	}
	if c.Storage.Backend == "local" && c.Storage.BaseDir == "" {
		errs = append(errs, errors.New("storage.base_dir is required for the local backend"))
	}
	errs = append(errs, oneOf("notify.backend", c.Notify.Backend, "none", "memory", "pubsub", "kafka"))
	if c.Notify.Backend == "pubsub" && c.Notify.ProjectID == "" {
		errs = append(errs, errors.New("notify.project_id is required for the pubsub backend"))
	}
	if c.Notify.Backend == "kafka" && len(c.Notify.Brokers) == 0 {
		errs = append(errs, errors.New("notify.brokers is required for the kafka backend"))
	}
	if c.Notify.Backend != "none" && c.Notify.Topic == "" {
		errs = append(errs, errors.New("notify.topic is required when notifications are enabled"))
	}
	return errors.Join(errs...)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

// StaleAfter converts the staleness window to a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Crawler.StaleAfterDays) * 24 * time.Hour
}

// FetchTimeout returns the plain fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
