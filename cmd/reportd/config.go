package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xraph/reportflow"
)

// Config is the daemon configuration. Values come from reportd.yaml,
// then REPORTFLOW_* environment variables (nested keys joined with _).
type Config struct {
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	Artifacts string `mapstructure:"artifacts_dir"`

	Store struct {
		// Records is postgres, mongo or memory.
		Records string `mapstructure:"records"`
		// Queue is redis, postgres, mongo or memory. Empty means the
		// records backend.
		Queue string `mapstructure:"queue"`
	} `mapstructure:"store"`

	Postgres struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"postgres"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
		// DataDatabase holds the business collections section plans
		// read from. Empty means Database.
		DataDatabase string `mapstructure:"data_database"`
	} `mapstructure:"mongo"`

	Redis struct {
		URL    string `mapstructure:"url"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Engine struct {
		Queue             string        `mapstructure:"queue"`
		DefaultTimezone   string        `mapstructure:"default_timezone"`
		Concurrency       int           `mapstructure:"concurrency"`
		JobsPerWindow     int           `mapstructure:"jobs_per_window"`
		RateWindow        time.Duration `mapstructure:"rate_window"`
		MaxAttempts       int           `mapstructure:"max_attempts"`
		BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
		PollInterval      time.Duration `mapstructure:"poll_interval"`
		PollerLockTTL     time.Duration `mapstructure:"poller_lock_ttl"`
		ScheduleLockTTL   time.Duration `mapstructure:"schedule_lock_ttl"`
		RunLockTTL        time.Duration `mapstructure:"run_lock_ttl"`
		ManualRateLimit   int           `mapstructure:"manual_rate_limit"`
		ManualRateWindow  time.Duration `mapstructure:"manual_rate_window"`
		MaxActiveRuns     int           `mapstructure:"max_active_runs"`
		SweepInterval     time.Duration `mapstructure:"sweep_interval"`
		MaxRunDuration    time.Duration `mapstructure:"max_run_duration"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		StaleJobThreshold time.Duration `mapstructure:"stale_job_threshold"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"engine"`
}

// LoadConfig reads .env, the config file and the environment. A missing
// default config file is not an error; a missing explicit one is.
func LoadConfig(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("REPORTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("reportd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reportd")
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
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// config file does not mention.
func setDefaults(v *viper.Viper) {
	d := reportflow.DefaultConfig()

	v.SetDefault("env", d.Env)
	v.SetDefault("log_level", "info")
	v.SetDefault("artifacts_dir", "./artifacts")
	v.SetDefault("store.records", "memory")
	v.SetDefault("store.queue", "")
	v.SetDefault("postgres.url", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "reportflow")
	v.SetDefault("mongo.data_database", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.prefix", "reportflow:")

	v.SetDefault("engine.queue", d.Queue)
	v.SetDefault("engine.default_timezone", d.DefaultTimezone)
	v.SetDefault("engine.concurrency", d.Concurrency)
	v.SetDefault("engine.jobs_per_window", d.JobsPerWindow)
	v.SetDefault("engine.rate_window", d.RateWindow)
	v.SetDefault("engine.max_attempts", d.MaxAttempts)
	v.SetDefault("engine.backoff_initial", d.BackoffInitial)
	v.SetDefault("engine.poll_interval", d.PollInterval)
	v.SetDefault("engine.poller_lock_ttl", d.PollerLockTTL)
	v.SetDefault("engine.schedule_lock_ttl", d.ScheduleLockTTL)
	v.SetDefault("engine.run_lock_ttl", d.RunLockTTL)
	v.SetDefault("engine.manual_rate_limit", d.ManualRateLimit)
	v.SetDefault("engine.manual_rate_window", d.ManualRateWindow)
	v.SetDefault("engine.max_active_runs", d.MaxActiveRuns)
	v.SetDefault("engine.sweep_interval", d.SweepInterval)
	v.SetDefault("engine.max_run_duration", d.MaxRunDuration)
	v.SetDefault("engine.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("engine.stale_job_threshold", d.StaleJobThreshold)
	v.SetDefault("engine.shutdown_timeout", d.ShutdownTimeout)
}

// Reporter converts the engine section into a reportflow.Config.
func (c *Config) Reporter() reportflow.Config {
	rc := reportflow.DefaultConfig()
	e := c.Engine

	rc.Env = c.Env
	rc.Queue = e.Queue
	rc.DefaultTimezone = e.DefaultTimezone
	rc.Concurrency = e.Concurrency
	rc.JobsPerWindow = e.JobsPerWindow
	rc.RateWindow = e.RateWindow
	rc.MaxAttempts = e.MaxAttempts
	rc.BackoffInitial = e.BackoffInitial
	rc.PollInterval = e.PollInterval
	rc.PollerLockTTL = e.PollerLockTTL
	rc.ScheduleLockTTL = e.ScheduleLockTTL
	rc.RunLockTTL = e.RunLockTTL
	rc.ManualRateLimit = e.ManualRateLimit
	rc.ManualRateWindow = e.ManualRateWindow
	rc.MaxActiveRuns = e.MaxActiveRuns
	rc.SweepInterval = e.SweepInterval
	rc.MaxRunDuration = e.MaxRunDuration
	rc.HeartbeatInterval = e.HeartbeatInterval
	rc.StaleJobThreshold = e.StaleJobThreshold
	rc.ShutdownTimeout = e.ShutdownTimeout
	return rc
}

// Logger builds the JSON logger at the configured level.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
