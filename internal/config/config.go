// Package config defines the tracker configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/balkashynov/tracker/internal/scheduler"
)

// Config is the top-level tracker configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Import    ImportConfig    `yaml:"import"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SchedulerConfig controls the ping loop and daemon shutdown.
type SchedulerConfig struct {
	TickIntervalSec    int `yaml:"tick_interval_sec"`
	PingTimeoutSec     int `yaml:"ping_timeout_sec"`
	Concurrency        int `yaml:"concurrency"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

// DefaultsConfig holds values applied to new tasks and agents.
type DefaultsConfig struct {
	PingIntervalMinutes int `yaml:"ping_interval_minutes"`
	AgentTimeoutMinutes int `yaml:"agent_timeout_minutes"`
}

// ImportConfig points the daemon at a directory of task-tree documents.
// An empty Dir disables the import inbox.
type ImportConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{
			TickIntervalSec:    30,
			PingTimeoutSec:     10,
			Concurrency:        8,
			ShutdownTimeoutSec: 30,
		},
		Defaults: DefaultsConfig{
			PingIntervalMinutes: 30,
			AgentTimeoutMinutes: 30,
		},
	}
}

// DefaultPath returns ~/.tracker/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tracker", "config.yaml"), nil
}

// Load builds the configuration: defaults, then the YAML file at path (a
// missing file is fine), then TRACKER_* environment variables. A .env file
// in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TRACKER_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TRACKER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TRACKER_IMPORT_DIR"); v != "" {
		c.Import.Dir = v
	}
	if v := os.Getenv("TRACKER_TICK_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRACKER_TICK_SECONDS: %w", err)
		}
		c.Scheduler.TickIntervalSec = n
	}
	return nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"scheduler.tick_interval_sec", c.Scheduler.TickIntervalSec},
		{"scheduler.ping_timeout_sec", c.Scheduler.PingTimeoutSec},
		{"scheduler.concurrency", c.Scheduler.Concurrency},
		{"scheduler.shutdown_timeout_sec", c.Scheduler.ShutdownTimeoutSec},
		{"defaults.ping_interval_minutes", c.Defaults.PingIntervalMinutes},
		{"defaults.agent_timeout_minutes", c.Defaults.AgentTimeoutMinutes},
	}
	for _, chk := range checks {
		if chk.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", chk.name, chk.value)
		}
	}
	if c.Scheduler.PingTimeoutSec >= c.Scheduler.TickIntervalSec {
		return fmt.Errorf("invalid config: scheduler.ping_timeout_sec (%d) must be shorter than tick_interval_sec (%d)",
			c.Scheduler.PingTimeoutSec, c.Scheduler.TickIntervalSec)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid config: logging.format %q is not text or json", c.Logging.Format)
	}
	return nil
}

// SchedulerSettings converts the scheduler section into scheduler.Config
func (c *Config) SchedulerSettings() scheduler.Config {
	return scheduler.Config{
		Interval:    time.Duration(c.Scheduler.TickIntervalSec) * time.Second,
		PingTimeout: time.Duration(c.Scheduler.PingTimeoutSec) * time.Second,
		Concurrency: c.Scheduler.Concurrency,
	}
}

// ShutdownTimeout is how long the daemon waits for in-flight work
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Scheduler.ShutdownTimeoutSec) * time.Second
}

// NewLogger builds the slog logger described by the logging section
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid config: logging.level %q is not one of debug, info, warn, error", s)
	}
}
