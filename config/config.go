// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration from defaults, an optional
// file, a .env file, GEOCONV_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/jcodagnone/geoconv/ingest"
	"github.com/jcodagnone/geoconv/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GEOCONV_DB_PATH.
const EnvPrefix = "GEOCONV"

type Config struct {
	DB        DBConfig        `mapstructure:"db"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"` // duckdb file
	DSN    string `mapstructure:"dsn"`  // postgres connection string
}

// Source returns the data source name for the configured driver.
func (c DBConfig) Source() string {
	if c.Driver == storage.DriverDuckDB {
		return c.Path
	}

	return c.DSN
}

type HTTPConfig struct {
	Addr      string        `mapstructure:"addr"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Trace     bool          `mapstructure:"trace"`
	TraceBody bool          `mapstructure:"trace_body"`
}

// ProviderConfig holds the account of one platform.
type ProviderConfig struct {
	Key      string `mapstructure:"key"`
	Secret   string `mapstructure:"secret"`
	Endpoint string `mapstructure:"endpoint"`
}

type ProvidersConfig struct {
	AutoNavi ProviderConfig `mapstructure:"autonavi"`
	Baidu    ProviderConfig `mapstructure:"baidu"`
	Tencent  ProviderConfig `mapstructure:"tencent"`
}

// Get returns the account of platform.
func (c ProvidersConfig) Get(platform geoconv.Platform) ProviderConfig {
	switch platform {
	case geoconv.PlatformAutoNavi:
		return c.AutoNavi
	case geoconv.PlatformBaidu:
		return c.Baidu
	case geoconv.PlatformTencent:
		return c.Tencent
	default:
		return ProviderConfig{}
	}
}

// Build creates every supported provider, enabled or not, in scheduling order.
func (c ProvidersConfig) Build() ([]geoconv.Provider, error) {
	providers := make([]geoconv.Provider, 0, len(geoconv.Platforms()))

	for _, platform := range geoconv.Platforms() {
		pc := c.Get(platform)

		var opts []geoconv.Option
		if pc.Endpoint != "" {
			opts = append(opts, geoconv.WithEndpoint(pc.Endpoint))
		}

		p, err := geoconv.NewProvider(platform, geoconv.Credentials{Key: pc.Key, Secret: pc.Secret}, opts...)
		if err != nil {
			return nil, err
		}

		providers = append(providers, p)
	}

	return providers, nil
}

type PollerConfig struct {
	StartDelay   time.Duration `mapstructure:"start_delay"`
	IdleInterval time.Duration `mapstructure:"idle_interval"`
	BackoffMin   time.Duration `mapstructure:"backoff_min"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// Ingest converts to the consumer settings.
func (c KafkaConfig) Ingest() ingest.KafkaConfig {
	return ingest.KafkaConfig{Brokers: c.Brokers, Topic: c.Topic, GroupID: c.GroupID}
}

type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
	Channel string `mapstructure:"channel"`
}

// Ingest converts to the notifier settings.
func (c RedisConfig) Ingest() ingest.RedisConfig {
	return ingest.RedisConfig{Addr: c.Addr, DB: c.DB, Channel: c.Channel}
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Apply configures logger level and formatter.
func (c LoggingConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", storage.DriverDuckDB)
	v.SetDefault("db.path", "data/geoconv.duckdb")
	v.SetDefault("db.dsn", "")
	v.SetDefault("http.addr", "localhost:8080")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.trace", false)
	v.SetDefault("http.trace_body", false)

	for _, platform := range geoconv.Platforms() {
		v.SetDefault("providers."+string(platform)+".key", "")
		v.SetDefault("providers."+string(platform)+".secret", "")
		v.SetDefault("providers."+string(platform)+".endpoint", "")
	}

	v.SetDefault("poller.start_delay", geoconv.DefaultStartDelay)
	v.SetDefault("poller.idle_interval", geoconv.DefaultIdleInterval)
	v.SetDefault("poller.backoff_min", time.Second)
	v.SetDefault("poller.backoff_max", time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")
	v.SetDefault("kafka.group_id", "geoconv")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", ingest.DefaultRedisChannel)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"db-driver":  "db.driver",
	"db-path":    "db.path",
	"db-dsn":     "db.dsn",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"addr":       "http.addr",
	"trace":      "http.trace",
}

// Load builds the configuration. file may be empty, in which case geoconv.yaml
// is looked up in the working directory and skipped when missing. flags may be nil.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("geoconv")

		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case storage.DriverDuckDB:
	case storage.DriverPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Poller.BackoffMax < c.Poller.BackoffMin {
		return fmt.Errorf("poller.backoff_max (%s) is lower than poller.backoff_min (%s)", c.Poller.BackoffMax, c.Poller.BackoffMin)
	}

	return nil
}
