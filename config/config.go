// Package config loads the bot configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // STREAKS_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/caarlos0/env/v11"

	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Log       LogConfig       `envPrefix:"LOG_"`
	Telegram  TelegramConfig  `envPrefix:"TELEGRAM_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Sessions  SessionsConfig  `envPrefix:"SESSIONS_"`
	Streaks   StreaksConfig   `envPrefix:"STREAKS_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name            string        `env:"NAME" envDefault:"study-buddy"`
	Environment     Environment   `env:"ENV" envDefault:"development"`
	Debug           bool          `env:"DEBUG" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// LogConfig selects level and handler.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT"`
}

// TelegramConfig contains Telegram bot settings.
type TelegramConfig struct {
	Token string `env:"BOT_TOKEN"`

	// WebhookURL is the public URL Telegram posts updates to. Empty means long polling.
	WebhookURL  string `env:"WEBHOOK_URL"`
	SecretToken string `env:"WEBHOOK_SECRET"`

	PollTimeout time.Duration `env:"POLL_TIMEOUT" envDefault:"10s"`
	AdminIDs    []int64       `env:"ADMIN_IDS" envSeparator:","`

	// Per-user command rate: RateLimit commands per second with RateBurst burst.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"1"`
	RateBurst int     `env:"RATE_BURST" envDefault:"5"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig selects and configures the journal store.
type DatabaseConfig struct {
	Driver     string `env:"DRIVER" envDefault:"sqlite"`
	URL        string `env:"URL"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"study-buddy.db"`

	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"1"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

// RedisConfig contains Redis settings. Redis is optional: without it the
// study board is disabled.
type RedisConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"false"`
	URL       string        `env:"URL" envDefault:"redis://localhost:6379/0"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"studybuddy:"`
	BoardTTL  time.Duration `env:"BOARD_TTL" envDefault:"192h"`
}

// SessionsConfig tunes the timer manager and per-kind defaults.
type SessionsConfig struct {
	// CountdownTick drives live countdowns and Pomodoro timers.
	CountdownTick time.Duration `env:"COUNTDOWN_TICK" envDefault:"1s"`

	// StopwatchTick drives stopwatch status messages.
	StopwatchTick time.Duration `env:"STOPWATCH_TICK" envDefault:"20s"`

	RenderTimeout   time.Duration `env:"RENDER_TIMEOUT" envDefault:"10s"`
	PomodoroWork    time.Duration `env:"POMODORO_WORK" envDefault:"25m"`
	PomodoroBreak   time.Duration `env:"POMODORO_BREAK" envDefault:"5m"`
	MaxCountdown    time.Duration `env:"MAX_COUNTDOWN" envDefault:"8760h"`
	MaxStopwatchAge time.Duration `env:"MAX_STOPWATCH_AGE" envDefault:"12h"`
}

// StreaksConfig controls daily check-ins.
type StreaksConfig struct {
	// Timezone decides where a calendar day starts.
	Timezone string `env:"TIMEZONE" envDefault:"Asia/Almaty"`
}

// SchedulerConfig controls background jobs.
type SchedulerConfig struct {
	Enabled          bool          `env:"ENABLED" envDefault:"true"`
	ExpireInterval   time.Duration `env:"EXPIRE_INTERVAL" envDefault:"5m"`
	PruneInterval    time.Duration `env:"PRUNE_INTERVAL" envDefault:"24h"`
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" envDefault:"2160h"`
}

// Load reads configuration from the process environment and validates it.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}
	if c.Telegram.RateLimit <= 0 || c.Telegram.RateBurst <= 0 {
		errs = append(errs, "TELEGRAM_RATE_LIMIT and TELEGRAM_RATE_BURST must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, "DATABASE_SQLITE_PATH is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite))
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, "REDIS_URL is required when Redis is enabled")
	}

	s := c.Sessions
	if s.CountdownTick <= 0 || s.StopwatchTick <= 0 {
		errs = append(errs, "SESSIONS_COUNTDOWN_TICK and SESSIONS_STOPWATCH_TICK must be positive")
	}
	if s.PomodoroWork <= 0 || s.PomodoroBreak <= 0 {
		errs = append(errs, "SESSIONS_POMODORO_WORK and SESSIONS_POMODORO_BREAK must be positive")
	}
	if s.MaxStopwatchAge <= 0 {
		errs = append(errs, "SESSIONS_MAX_STOPWATCH_AGE must be positive")
	}

	if _, err := timeutil.LoadLocation(c.Streaks.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("STREAKS_TIMEZONE: %v", err))
	}

	if c.Scheduler.Enabled && (c.Scheduler.ExpireInterval <= 0 || c.Scheduler.PruneInterval <= 0) {
		errs = append(errs, "SCHEDULER_EXPIRE_INTERVAL and SCHEDULER_PRUNE_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// UseWebhook reports whether updates arrive through the webhook endpoint.
func (c *Config) UseWebhook() bool {
	return c.Telegram.WebhookURL != ""
}

// LogFormat returns the configured format, defaulting to JSON in production.
func (c *Config) LogFormat() string {
	if c.Log.Format != "" {
		return c.Log.Format
	}
	if c.IsProduction() {
		return "json"
	}
	return "text"
}

// Location returns the streak timezone. Validate has already checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := timeutil.LoadLocation(c.Streaks.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
