package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Scheduler.TickIntervalSec)
	assert.Equal(t, 10, cfg.Scheduler.PingTimeoutSec)
	assert.Equal(t, 30, cfg.Defaults.PingIntervalMinutes)
	assert.Equal(t, 30, cfg.Defaults.AgentTimeoutMinutes)
	assert.Equal(t, "info", cfg.Logging.Level)

	sc := cfg.SchedulerSettings()
	assert.Equal(t, 30*time.Second, sc.Interval)
	assert.Equal(t, 10*time.Second, sc.PingTimeout)
	assert.Equal(t, 8, sc.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/from-file.db
logging:
  level: debug
scheduler:
  tick_interval_sec: 60
defaults:
  agent_timeout_minutes: 45
`), 0644))

	t.Setenv("TRACKER_DB_PATH", "/tmp/from-env.db")
	t.Setenv("TRACKER_TICK_SECONDS", "15")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 15, cfg.Scheduler.TickIntervalSec)
	assert.Equal(t, 45, cfg.Defaults.AgentTimeoutMinutes)
	assert.Equal(t, 30, cfg.Defaults.PingIntervalMinutes, "unset keys keep defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRACKER_IMPORT_DIR=/tmp/inbox\n"), 0644))
	t.Setenv("TRACKER_IMPORT_DIR", "")
	os.Unsetenv("TRACKER_IMPORT_DIR")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/inbox", cfg.Import.Dir)
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("TRACKER_TICK_SECONDS", "soon")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("TRACKER_TICK_SECONDS", "5")
	_, err = Load("")
	require.Error(t, err, "ping timeout must be shorter than the tick")
	assert.Contains(t, err.Error(), "ping_timeout_sec")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Scheduler.Concurrency = 0
	assert.ErrorContains(t, cfg.Validate(), "scheduler.concurrency")

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "task_id", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"task_id":3`)
}
