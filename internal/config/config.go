package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmehdipour/newsletter/internal/jobqueue"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Sender     SenderConfig     `mapstructure:"sender"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Email      EmailConfig      `mapstructure:"email"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Providers  []ProviderConfig `mapstructure:"providers"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type RetryConfig struct {
	Limit    int           `mapstructure:"limit"`
	Delay    time.Duration `mapstructure:"delay"`
	Backoff  bool          `mapstructure:"backoff"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type QueueConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	RecoverInterval time.Duration `mapstructure:"recover_interval"`
	PublishRetry    RetryConfig   `mapstructure:"publish_retry"`
	SendRetry       RetryConfig   `mapstructure:"send_retry"`
}

type SenderConfig struct {
	Workers     int     `mapstructure:"workers"`
	RatePerSec  float64 `mapstructure:"rate_per_sec"`
	Burst       int     `mapstructure:"burst"`
	Limiter     string  `mapstructure:"limiter"` // local | redis
	MaxAttempts int     `mapstructure:"max_attempts"`
}

type SinkConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

type EmailConfig struct {
	From      string `mapstructure:"from"`
	ReplyTo   string `mapstructure:"reply_to"`
	Subject   string `mapstructure:"subject"`
	Brand     string `mapstructure:"brand"`
	ClientURL string `mapstructure:"client_url"`
}

// RateLimitConfig limits the public subscriber endpoints per client IP.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name         string        `mapstructure:"name"`
	Kind         string        `mapstructure:"kind"` // http | postmark | log
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	Path         string        `mapstructure:"path"`
	Token        string        `mapstructure:"token"`
	AccountToken string        `mapstructure:"account_token"`
	TimeoutMs    int           `mapstructure:"timeout_ms"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (NEWSLETTER_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	// optional file; a missing one keeps the defaults
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		}
	}

	// env override (NEWSLETTER_MYSQL_DSN, ...)
	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the workers cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Queue.PublishRetry.Limit < 0 || c.Queue.SendRetry.Limit < 0:
		return fmt.Errorf("queue: retry limits must be >= 0")
	case c.Sender.RatePerSec < 0:
		return fmt.Errorf("sender.rate_per_sec must be >= 0 (0 disables limiting), got %v", c.Sender.RatePerSec)
	case c.Sender.Limiter != "local" && c.Sender.Limiter != "redis":
		return fmt.Errorf("sender.limiter must be local or redis, got %q", c.Sender.Limiter)
	case c.Email.ClientURL == "":
		return fmt.Errorf("email.client_url is required")
	}
	for _, p := range c.Providers {
		switch p.Kind {
		case "http", "postmark", "log":
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}

// Policy converts the YAML retry block into the queue's retry policy.
func (r RetryConfig) Policy() jobqueue.RetryPolicy {
	return jobqueue.RetryPolicy{Limit: r.Limit, Delay: r.Delay, Backoff: r.Backoff, MaxDelay: r.MaxDelay}
}
