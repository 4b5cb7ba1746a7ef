// Package config loads service settings from defaults, an optional YAML
// file and PASSWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: cache.write_budget becomes
// PASSWATCH_CACHE_WRITE_BUDGET.
const EnvPrefix = "PASSWATCH"

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Auth        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	TLE         TLEConfig         `mapstructure:"tle" yaml:"tle"`
	Propagation PropagationConfig `mapstructure:"propagation" yaml:"propagation"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Kafka       KafkaConfig       `mapstructure:"kafka" yaml:"kafka"`
}

type HTTPConfig struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	TrustProxy         bool          `mapstructure:"trust_proxy" yaml:"trust_proxy"`
	MaxConcurrentPerIP int           `mapstructure:"max_concurrent_per_ip" yaml:"max_concurrent_per_ip"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TLEConfig struct {
	EnableFetch     bool          `mapstructure:"enable_fetch" yaml:"enable_fetch"`
	SourceURL       string        `mapstructure:"source_url" yaml:"source_url"`
	ExtraURLs       []string      `mapstructure:"extra_urls" yaml:"extra_urls"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type PropagationConfig struct {
	Step      time.Duration `mapstructure:"step" yaml:"step"`
	MaxSteps  int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxWindow time.Duration `mapstructure:"max_window" yaml:"max_window"`
}

type CacheConfig struct {
	Dir           string        `mapstructure:"dir" yaml:"dir"` // empty keeps the cache in memory
	MinTTL        time.Duration `mapstructure:"min_ttl" yaml:"min_ttl"`
	MinTLETTL     time.Duration `mapstructure:"min_tle_ttl" yaml:"min_tle_ttl"`
	ResultTTL     time.Duration `mapstructure:"result_ttl" yaml:"result_ttl"`
	RateWindow    time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	WriteBudget   int           `mapstructure:"write_budget" yaml:"write_budget"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type WorkerConfig struct {
	Workers           int `mapstructure:"workers" yaml:"workers"`
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	SearchConcurrency int `mapstructure:"search_concurrency" yaml:"search_concurrency"`
	MaxSearchResults  int `mapstructure:"max_search_results" yaml:"max_search_results"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("http.max_concurrent_per_ip", 8)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tle.enable_fetch", true)
	v.SetDefault("tle.source_url", "")
	v.SetDefault("tle.extra_urls", []string{})
	v.SetDefault("tle.refresh_interval", 6*time.Hour)
	v.SetDefault("tle.ttl", 24*time.Hour)

	v.SetDefault("propagation.step", 30*time.Second)
	v.SetDefault("propagation.max_steps", 20000)
	v.SetDefault("propagation.max_window", 6*24*time.Hour)

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.min_ttl", time.Duration(0))
	v.SetDefault("cache.min_tle_ttl", 24*time.Hour)
	v.SetDefault("cache.result_ttl", time.Hour)
	v.SetDefault("cache.rate_window", time.Hour)
	v.SetDefault("cache.write_budget", 60)
	v.SetDefault("cache.sweep_interval", 12*time.Hour)

	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.search_concurrency", runtime.NumCPU())
	v.SetDefault("worker.max_search_results", 200)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "passwatch.passes")
}

// Load reads configuration. A non-empty path must name a readable file;
// otherwise passwatch.yaml is looked up in the working directory and
// /etc/passwatch, and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("passwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/passwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate replaces out-of-range values with defaults, logging a warning for
// each, and fails only on settings that cannot be corrected.
func (c *Config) Validate(logger *slog.Logger) error {
	if c.Auth.Enabled && c.Auth.Token == "" {
		return errors.New("auth.token is required when auth is enabled")
	}

	fixInt := func(key string, p *int, min, def int) {
		if *p < min {
			logger.Warn("invalid config value, using default", "key", key, "value", *p, "default", def)
			*p = def
		}
	}
	fixDur := func(key string, p *time.Duration, min, def time.Duration) {
		if *p < min {
			logger.Warn("invalid config value, using default", "key", key, "value", p.String(), "default", def.String())
			*p = def
		}
	}

	if c.HTTP.Addr == "" {
		logger.Warn("invalid config value, using default", "key", "http.addr", "value", "", "default", ":8080")
		c.HTTP.Addr = ":8080"
	}
	fixInt("http.max_concurrent_per_ip", &c.HTTP.MaxConcurrentPerIP, 1, 8)
	fixDur("http.read_timeout", &c.HTTP.ReadTimeout, time.Second, 10*time.Second)
	fixDur("http.write_timeout", &c.HTTP.WriteTimeout, time.Second, 60*time.Second)

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		logger.Warn("invalid config value, using default", "key", "log.level", "value", c.Log.Level, "default", "info")
		c.Log.Level = "info"
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		logger.Warn("invalid config value, using default", "key", "log.format", "value", c.Log.Format, "default", "json")
		c.Log.Format = "json"
	}

	fixDur("tle.refresh_interval", &c.TLE.RefreshInterval, time.Minute, 6*time.Hour)
	fixDur("tle.ttl", &c.TLE.TTL, time.Minute, 24*time.Hour)

	fixDur("propagation.step", &c.Propagation.Step, time.Second, 30*time.Second)
	fixInt("propagation.max_steps", &c.Propagation.MaxSteps, 1, 20000)
	fixDur("propagation.max_window", &c.Propagation.MaxWindow, time.Minute, 6*24*time.Hour)
	if limit := c.Propagation.Step * time.Duration(c.Propagation.MaxSteps-1); c.Propagation.MaxWindow > limit {
		logger.Warn("propagation.max_window exceeds the step budget, clamping",
			"max_window", c.Propagation.MaxWindow.String(), "limit", limit.String())
		c.Propagation.MaxWindow = limit
	}

	fixDur("cache.min_ttl", &c.Cache.MinTTL, 0, 0)
	fixDur("cache.min_tle_ttl", &c.Cache.MinTLETTL, time.Minute, 24*time.Hour)
	fixDur("cache.result_ttl", &c.Cache.ResultTTL, time.Second, time.Hour)
	fixDur("cache.rate_window", &c.Cache.RateWindow, time.Second, time.Hour)
	fixInt("cache.write_budget", &c.Cache.WriteBudget, 1, 60)
	fixDur("cache.sweep_interval", &c.Cache.SweepInterval, time.Second, 12*time.Hour)

	fixInt("worker.workers", &c.Worker.Workers, 1, 1)
	fixInt("worker.queue_size", &c.Worker.QueueSize, 1, 64)
	fixInt("worker.search_concurrency", &c.Worker.SearchConcurrency, 1, runtime.NumCPU())
	fixInt("worker.max_search_results", &c.Worker.MaxSearchResults, 1, 200)

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		logger.Warn("kafka enabled without brokers or topic, disabling")
		c.Kafka.Enabled = false
	}
	return nil
}

// SlogLevel maps Log.Level to a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
