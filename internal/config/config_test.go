package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "skiptrace.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int64(5000), cfg.Budget.DailyCapCents)
	assert.Equal(t, "UTC", cfg.Budget.Timezone)
	assert.Equal(t, 5, cfg.Runner.Concurrency)
	assert.Equal(t, 1000, cfg.Runner.MaxBatchSize)
	assert.Equal(t, "providers.yaml", cfg.Waterfall.ConfigPath)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 30, cfg.Resilience.ResetTimeoutSecs)
	assert.Equal(t, 2, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 250, cfg.Resilience.InitialBackoffMs)
	assert.Equal(t, 2000, cfg.Resilience.MaxBackoffMs)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.8, cfg.Monitoring.CostAlertFraction, 0.001)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/skiptrace
budget:
  daily_cap_cents: 2500
  timezone: America/Chicago
runner:
  concurrency: 10
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/skiptrace", cfg.Store.DatabaseURL)
	assert.Equal(t, int64(2500), cfg.Budget.DailyCapCents)
	assert.Equal(t, 10, cfg.Runner.Concurrency)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Runner.MaxBatchSize)

	loc, err := cfg.Budget.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SKIPTRACE_STORE_DRIVER", "postgres")
	t.Setenv("SKIPTRACE_LOG_LEVEL", "warn")
	t.Setenv("SKIPTRACE_BUDGET_DAILY_CAP_CENTS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, int64(0), cfg.Budget.DailyCapCents)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestBudgetLocation(t *testing.T) {
	loc, err := BudgetConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = BudgetConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "skiptrace.db"
	cfg.Runner.Concurrency = 5
	cfg.Runner.MaxBatchSize = 1000
	cfg.Waterfall.ConfigPath = "providers.yaml"
	cfg.Budget.Timezone = "UTC"
	cfg.Server.Port = 8080
	cfg.Monitoring.CostAlertFraction = 0.8
	cfg.Monitoring.FailureRateThreshold = 0.5
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "trace", "store"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.NoError(t, cfg.Validate("trace"), "port only matters when serving")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Runner.Concurrency = 0
	err := cfg.Validate("trace")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "runner.concurrency must be between 1 and 100")

	cfg.Runner.Concurrency = 101
	assert.Error(t, cfg.Validate("trace"))

	cfg.Runner.Concurrency = 100
	assert.NoError(t, cfg.Validate("trace"))
}

func TestValidateTimezone(t *testing.T) {
	cfg := validDefaults()
	cfg.Budget.Timezone = "Nowhere/Special"

	err := cfg.Validate("trace")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "budget.timezone")
}

func TestValidateMonitoring(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.CostAlertFraction = 1.5
	cfg.Monitoring.FailureRateThreshold = -1

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cost_alert_fraction")
	assert.Contains(t, err.Error(), "failure_rate_threshold")

	cfg.Monitoring.Enabled = false
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
