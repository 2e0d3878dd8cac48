package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Runner    RunnerConfig    `koanf:"runner"`
	Logs      LogsConfig      `koanf:"logs"`
	Server    ServerConfig    `koanf:"server"`
	Redis     RedisConfig     `koanf:"redis"`
	History   HistoryConfig   `koanf:"history"`
	Intake    IntakeConfig    `koanf:"intake"`
	Webhooks  WebhookConfig   `koanf:"webhooks"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type RunnerConfig struct {
	Workers             int           `koanf:"workers" validate:"gte=1"`
	ThreadsPerRun       int           `koanf:"threads_per_run" validate:"gte=1"`
	PoolFullWaitSeconds float64       `koanf:"pool_full_wait_seconds" validate:"gt=0"`
	AbortTimeout        time.Duration `koanf:"abort_timeout" validate:"gt=0"`
	Interpreter         string        `koanf:"interpreter" validate:"required"`
	RunPool             RunPoolConfig `koanf:"run_pool"`
}

type RunPoolConfig struct {
	MaxConcurrentSubmits int           `koanf:"max_concurrent_submits" validate:"gte=1"`
	ExitWaitTimeout      time.Duration `koanf:"exit_wait_timeout"`
}

type LogsConfig struct {
	Root                    string        `koanf:"root" validate:"required"`
	AutoClean               bool          `koanf:"auto_clean"`
	TTL                     time.Duration `koanf:"ttl"`
	CleanInterval           time.Duration `koanf:"clean_interval"`
	DiskWarningThresholdMB  int           `koanf:"disk_warning_threshold_mb"`
	DiskCriticalThresholdMB int           `koanf:"disk_critical_threshold_mb"`
}

type ServerConfig struct {
	Port      int    `koanf:"port" validate:"gte=0,lte=65535"`
	AuthToken string `koanf:"auth_token"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`

	// HistoryTTL bounds how long run event history stays replayable.
	HistoryTTL time.Duration `koanf:"history_ttl"`
}

type HistoryConfig struct {
	Path string `koanf:"path"`
}

type IntakeConfig struct {
	Enabled   bool          `koanf:"enabled"`
	QueueName string        `koanf:"queue_name"`
	ResultTTL time.Duration `koanf:"result_ttl"`
}

type WebhookConfig struct {
	HMACSecret string        `koanf:"hmac_secret"`
	RetryCount int           `koanf:"retry_count"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

type RateLimitConfig struct {
	Enabled       bool `koanf:"enabled"`
	RunsPerMinute int  `koanf:"runs_per_minute"`
}

type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PoolFullWait returns the admission sleep as a duration.
func (r RunnerConfig) PoolFullWait() time.Duration {
	return time.Duration(r.PoolFullWaitSeconds * float64(time.Second))
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Runner: RunnerConfig{
			Workers:             50,
			ThreadsPerRun:       4,
			PoolFullWaitSeconds: 1,
			AbortTimeout:        3 * time.Second,
			Interpreter:         "/bin/sh",
			RunPool: RunPoolConfig{
				MaxConcurrentSubmits: 4,
			},
		},
		Logs: LogsConfig{
			Root:                    filepath.Join(cacheDir(), "askshell", "run_logs"),
			AutoClean:               true,
			TTL:                     7 * 24 * time.Hour,
			CleanInterval:           10 * time.Minute,
			DiskWarningThresholdMB:  512,
			DiskCriticalThresholdMB: 2048,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Redis: RedisConfig{
			Prefix:     "askshell:",
			HistoryTTL: 24 * time.Hour,
		},
		Intake: IntakeConfig{
			QueueName: "input:runs",
			ResultTTL: time.Hour,
		},
		Webhooks: WebhookConfig{
			RetryCount: 3,
			RetryDelay: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RunsPerMinute: 60,
		},
		Tracing: TracingConfig{
			SamplingRate: 0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// legacyEnv maps the runner's historical variable names onto config keys.
var legacyEnv = map[string]string{
	"RUN_THREAD_COUNT":                   "runner.workers",
	"RUN_THREADS_PER_RUN":                "runner.threads_per_run",
	"THREAD_POOL_FULL_WAIT_TIME_SECONDS": "runner.pool_full_wait_seconds",
}

// Load reads configuration from YAML file + environment variables.
// Loading order: defaults → YAML file → legacy env vars → ASKSHELL_ env vars.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Defaults()

	if configPath == "" {
		configPath = os.Getenv("ASKSHELL_CONFIG")
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	} else {
		// Try default path, ignore if not found
		_ = k.Load(file.Provider("askshell.yaml"), yaml.Parser())
	}

	for _, prefix := range []string{"RUN_", "THREAD_POOL_"} {
		err := k.Load(env.Provider(prefix, ".", func(s string) string {
			return legacyEnv[s]
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("loading legacy env vars: %w", err)
		}
	}

	// ASKSHELL_RUNNER__WORKERS → runner.workers
	// Double underscore (__) separates nesting levels.
	err := k.Load(env.Provider("ASKSHELL_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ASKSHELL_")
		if s == "CONFIG" || s == "FORCE_INTERACTIVE_SHELL" {
			return ""
		}
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateServe checks the settings the admin API and intake need.
func (c *Config) ValidateServe() error {
	if c.Server.AuthToken == "" {
		return fmt.Errorf("config: server.auth_token is required (set ASKSHELL_SERVER__AUTH_TOKEN)")
	}
	if c.Intake.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url is required when intake is enabled (set ASKSHELL_REDIS__URL)")
	}
	return nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Runner.Workers < cfg.Runner.ThreadsPerRun {
		return fmt.Errorf("config: runner.workers (%d) must be at least runner.threads_per_run (%d)",
			cfg.Runner.Workers, cfg.Runner.ThreadsPerRun)
	}
	return nil
}

func cacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
