package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	APIToken     string        `mapstructure:"api_token"`
	IngestRPS    float64       `mapstructure:"ingest_rps"`
	IngestBurst  int           `mapstructure:"ingest_burst"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type DeliveryConfig struct {
	// Workers bounds how many targets of one event are delivered concurrently.
	Workers           int           `mapstructure:"workers"`
	// Timeout and MaxAttempts are capped at the delivery contract (10s, 3
	// attempts). Lower values are accepted and shorten the retry budget.
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ResponseBodyLimit int           `mapstructure:"response_body_limit"`
	QueueSize         int           `mapstructure:"queue_size"`
	QueueWorkers      int           `mapstructure:"queue_workers"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookdispatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookdispatch")
	}

	setDefaults(v)

	v.SetEnvPrefix("HOOKDISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Delivery.clamp()

	return &cfg, nil
}

const (
	maxDeliveryTimeout  = 10 * time.Second
	maxDeliveryAttempts = 3
)

func (d *DeliveryConfig) clamp() {
	if d.Timeout <= 0 || d.Timeout > maxDeliveryTimeout {
		d.Timeout = maxDeliveryTimeout
	}
	if d.MaxAttempts <= 0 || d.MaxAttempts > maxDeliveryAttempts {
		d.MaxAttempts = maxDeliveryAttempts
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.ingest_rps", 50.0)
	v.SetDefault("server.ingest_burst", 100)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "./data/hookdispatch.db")
	v.SetDefault("storage.postgres.dsn", "")

	v.SetDefault("delivery.workers", 8)
	v.SetDefault("delivery.timeout", 10*time.Second)
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.response_body_limit", 1000)
	v.SetDefault("delivery.queue_size", 1024)
	v.SetDefault("delivery.queue_workers", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
