package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/ifuryst/plume/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Publisher PublisherConfig `yaml:"publisher"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the sqlite database file, used when Type is "sqlite".
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	Enabled         *bool  `yaml:"enabled"`
	Interval        string `yaml:"interval"`
	BatchSize       int    `yaml:"batch_size"`
	Concurrency     int    `yaml:"concurrency"`
	MaxAttempts     *int   `yaml:"max_attempts"`
	RetryBackoff    string `yaml:"retry_backoff"`
	MaxRetryBackoff string `yaml:"max_retry_backoff"`
}

func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c SchedulerConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, 2*time.Minute)
}

func (c SchedulerConfig) RetryBackoffDuration() time.Duration {
	return parseDuration(c.RetryBackoff, 2*time.Minute)
}

func (c SchedulerConfig) MaxRetryBackoffDuration() time.Duration {
	return parseDuration(c.MaxRetryBackoff, time.Hour)
}

// MaxAttemptsValue returns the attempt ceiling; 0 means unbounded.
func (c SchedulerConfig) MaxAttemptsValue() int {
	if c.MaxAttempts == nil {
		return 5
	}
	if *c.MaxAttempts < 0 {
		return 0
	}
	return *c.MaxAttempts
}

type PublisherConfig struct {
	Mode       string        `yaml:"mode"`
	Timeout    string        `yaml:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	Breaker    BreakerConfig `yaml:"breaker"`
	Twitter    TwitterConfig `yaml:"twitter"`
	Mock       MockConfig    `yaml:"mock"`
}

func (c PublisherConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

type BreakerConfig struct {
	FailureThreshold uint   `yaml:"failure_threshold"`
	Window           uint   `yaml:"window"`
	Delay            string `yaml:"delay"`
}

func (c BreakerConfig) DelayDuration() time.Duration {
	return parseDuration(c.Delay, time.Minute)
}

type TwitterConfig struct {
	BaseURL   string `yaml:"base_url"`
	MaxLength int    `yaml:"max_length"`
}

type MockConfig struct {
	FailureRate *float64 `yaml:"failure_rate"`
	Delay       string   `yaml:"delay"`
	Seed        int64    `yaml:"seed"`
}

func (c MockConfig) FailureRateValue() float64 {
	if c.FailureRate == nil {
		return 0.1
	}
	return *c.FailureRate
}

func (c MockConfig) DelayDuration() time.Duration {
	return parseDuration(c.Delay, time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5335
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "plume.db"
	}
	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "2m"
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.Concurrency <= 0 {
		cfg.Scheduler.Concurrency = 1
	}
	if cfg.Publisher.Mode == "" {
		cfg.Publisher.Mode = "live"
	}
	if cfg.Publisher.RatePerSec <= 0 {
		cfg.Publisher.RatePerSec = 1
	}
	if cfg.Publisher.Breaker.FailureThreshold == 0 {
		cfg.Publisher.Breaker.FailureThreshold = 5
	}
	if cfg.Publisher.Breaker.Window < cfg.Publisher.Breaker.FailureThreshold {
		cfg.Publisher.Breaker.Window = cfg.Publisher.Breaker.FailureThreshold * 2
	}
	if cfg.Publisher.Twitter.BaseURL == "" {
		cfg.Publisher.Twitter.BaseURL = "https://api.twitter.com"
	}
	if cfg.Publisher.Twitter.MaxLength <= 0 {
		cfg.Publisher.Twitter.MaxLength = 280
	}
}
