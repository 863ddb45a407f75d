package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// Scheduler worker loop
	IdleSleepSec         int  `env:"IDLE_SLEEP_SEC" envDefault:"3" validate:"min=1,max=300"`
	MaxUsersPerTick      int  `env:"MAX_USERS_PER_TICK" envDefault:"4" validate:"min=1,max=100"`
	MaxIntentionsPerTick int  `env:"MAX_INTENTIONS_PER_TICK" envDefault:"1" validate:"min=1,max=100"`
	FinishWhenIdle       bool `env:"FINISH_WHEN_IDLE" envDefault:"false"`

	// Task runner
	RunnerBin    string `env:"RUNNER_BIN" envDefault:"mordred"`
	GitReposPath string `env:"GIT_REPOS_PATH" envDefault:"/tmp/poolsched/repos"`
	JobLogsDir   string `env:"JOB_LOGS_DIR" envDefault:"/tmp/poolsched/job-logs"`
	// Passed through to task runners; the scheduler itself never talks to it.
	ElasticURL string `env:"ELASTICSEARCH_URL"`

	// Janitor: workers that miss heartbeats for WORKER_TTL_SEC are marked
	// DOWN and their claimed jobs released. Disable to require manual
	// intervention for crashed workers instead.
	JanitorEnabled bool `env:"JANITOR_ENABLED" envDefault:"true"`
	WorkerTTLSec   int  `env:"WORKER_TTL_SEC" envDefault:"300" validate:"min=30"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret     string `env:"JWT_SECRET,required"   validate:"required,min=32"`
	ResendAPIKey  string `env:"RESEND_API_KEY"         validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM"            validate:"required_if=Env production,required_if=Env staging"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL"    envDefault:"http://localhost:8080"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IdleSleep() time.Duration {
	return time.Duration(c.IdleSleepSec) * time.Second
}

func (c *Config) WorkerTTL() time.Duration {
	return time.Duration(c.WorkerTTLSec) * time.Second
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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
