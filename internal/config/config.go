// Package config loads tickflow settings from an optional YAML file and
// TICKFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// TICKFLOW_STORE_DRIVER for store.driver.
const EnvPrefix = "TICKFLOW"

// Config holds the configuration for the application.
type Config struct {
	Store struct {
		Driver        string `mapstructure:"driver"`
		SQLiteDSN     string `mapstructure:"sqlite_dsn"`
		PostgresDSN   string `mapstructure:"postgres_dsn"`
		MongoURI      string `mapstructure:"mongo_uri"`
		MongoDatabase string `mapstructure:"mongo_database"`
	} `mapstructure:"store"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Scheduler struct {
		BatchSize     int           `mapstructure:"batch_size"`
		Parallelism   int           `mapstructure:"parallelism"`
		StepDelay     time.Duration `mapstructure:"step_delay"`
		LockTTL       time.Duration `mapstructure:"lock_ttl"`
		TickTimeout   time.Duration `mapstructure:"tick_timeout"`
		ActionTimeout time.Duration `mapstructure:"action_timeout"`
		Schedule      string        `mapstructure:"schedule"`
	} `mapstructure:"scheduler"`
	HTTP struct {
		Addr       string `mapstructure:"addr"`
		CronSecret string `mapstructure:"cron_secret"`
	} `mapstructure:"http"`
	Metrics struct {
		// Enabled exposes Prometheus metrics on the HTTP server.
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"metrics"`
	Webhook struct {
		RateLimit float64       `mapstructure:"rate_limit"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"webhook"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

var drivers = []string{"memory", "sqlite", "postgres", "mongo"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_dsn", "file:tickflow.db?_pragma=busy_timeout(5000)")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "tickflow")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.parallelism", 4)
	v.SetDefault("scheduler.step_delay", time.Second)
	v.SetDefault("scheduler.lock_ttl", 5*time.Minute)
	v.SetDefault("scheduler.tick_timeout", 4*time.Minute)
	v.SetDefault("scheduler.action_timeout", 30*time.Second)
	v.SetDefault("scheduler.schedule", "@every 1m")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cron_secret", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("webhook.rate_limit", 0.0)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration. When file is empty, tickflow.yaml is
// looked up in the working directory and ./config; a missing file is not
// an error in that case.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("tickflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(drivers, ", ")))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("scheduler.batch_size must be positive"))
	}
	if c.Scheduler.Parallelism <= 0 {
		errs = append(errs, errors.New("scheduler.parallelism must be positive"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}
