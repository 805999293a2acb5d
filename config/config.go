// Package config loads pipeline settings from an optional YAML file and the
// environment. Environment variables use the PIPELINE_ prefix and override
// the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PIPELINE_"

type Config struct {
	Log         Log         `yaml:"log" envPrefix:"LOG_"`
	Transaction Transaction `yaml:"transaction" envPrefix:"TX_"`
	Events      Events      `yaml:"events" envPrefix:"EVENTS_"`
	Store       Store       `yaml:"store" envPrefix:"STORE_"`
	Redis       Redis       `yaml:"redis" envPrefix:"REDIS_"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text or json
}

type Transaction struct {
	// Nested is "reject" or "join".
	Nested string `yaml:"nested" env:"NESTED"`
}

type Events struct {
	// RetryAttempts is the number of redeliveries after a failed subscriber
	// call. Zero disables retries.
	RetryAttempts uint64        `yaml:"retryAttempts" env:"RETRY_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retryInterval" env:"RETRY_INTERVAL"`
}

type Store struct {
	Driver string `yaml:"driver" env:"DRIVER"` // memory or sqlite
	DSN    string `yaml:"dsn" env:"DSN"`
}

// Redis enables forwarding of committed events when Addr is set.
type Redis struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Stream   string `yaml:"stream" env:"STREAM"`
	MaxLen   int64  `yaml:"maxLen" env:"MAX_LEN"`

	// RateLimit caps stream writes per second. Zero means unlimited.
	RateLimit float64 `yaml:"rateLimit" env:"RATE_LIMIT"`
}

func Default() Config {
	return Config{
		Log:         Log{Level: "info", Format: "text"},
		Transaction: Transaction{Nested: "reject"},
		Events:      Events{RetryInterval: 100 * time.Millisecond},
		Store:       Store{Driver: "memory"},
		Redis:       Redis{Stream: "pipeline:events"},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch c.Transaction.Nested {
	case "reject", "join":
	default:
		errs = append(errs, fmt.Errorf("transaction.nested: unknown policy %q", c.Transaction.Nested))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn: required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Events.RetryAttempts > 0 && c.Events.RetryInterval <= 0 {
		errs = append(errs, errors.New("events.retryInterval: must be positive when retries are enabled"))
	}
	if c.Redis.RateLimit < 0 {
		errs = append(errs, errors.New("redis.rateLimit: must not be negative"))
	}
	return errors.Join(errs...)
}

// Logger builds the logrus logger described by the log section.
func (c Config) Logger() *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		l.SetLevel(lvl)
	}
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}
