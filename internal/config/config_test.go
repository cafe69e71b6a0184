package config

import (
	"os"
	"path/filepath"
	"testing"

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
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Ratios.Workers)
	assert.Equal(t, 0, cfg.Ratios.Limit)
	assert.Equal(t, 120, cfg.Ratios.DrainTimeoutSecs)
	assert.Equal(t, 30, cfg.Ratios.Resolver.FallbackWindowDays)
	assert.Equal(t, 90, cfg.Ratios.Resolver.PriorOffsetDays)
	assert.Equal(t, 45, cfg.Ratios.Resolver.PriorWindowDays)
	assert.Equal(t, 7, cfg.Ratios.Prices.LookbackDays)
	assert.Equal(t, 20, cfg.Ratios.Prices.NearOffsetDays)
	assert.Equal(t, 50, cfg.Ratios.Prices.FarOffsetDays)
	assert.Equal(t, 3, cfg.Retry.Store.MaxAttempts)
	assert.Equal(t, 4, cfg.Retry.Compute.MaxAttempts)
	assert.Equal(t, 180, cfg.Retry.Compute.AttemptTimeoutSecs)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, BackendFormula, cfg.Compute.Backend)
	assert.InDelta(t, 5.0, cfg.Compute.RequestsPerSecond, 0.001)
	assert.Equal(t, 2048, cfg.Compute.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Compute.Temperature, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, "https://data.sec.gov", cfg.EDGAR.BaseURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: ratios.db
log:
  level: debug
  format: console
ratios:
  workers: 3
  resolver:
    prior_window_days: 30
compute:
  backend: gemini
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ratios.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Ratios.Workers)
	assert.Equal(t, 30, cfg.Ratios.Resolver.PriorWindowDays)
	assert.Equal(t, BackendGemini, cfg.Compute.Backend)
	// Defaults still apply for unset values
	assert.Equal(t, 90, cfg.Ratios.Resolver.PriorOffsetDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
ratios:
  workers: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("RATIOS_STORE_DRIVER", "postgres")
	t.Setenv("RATIOS_RATIOS_WORKERS", "12")
	t.Setenv("RATIOS_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 12, cfg.Ratios.Workers)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Store.DatabaseURL = "postgres://localhost/ratios"
	return cfg
}

func TestValidateRun_Defaults(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "sqlite"
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidateRun_BackendKeys(t *testing.T) {
	cfg := validConfig(t)

	cfg.Compute.Backend = BackendAnthropic
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant"
	assert.NoError(t, cfg.Validate("run"))

	cfg.Compute.Backend = BackendGemini
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")

	cfg.Compute.Backend = "abacus"
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestValidateRun_Bounds(t *testing.T) {
	cfg := validConfig(t)

	cfg.Ratios.Workers = 0
	cfg.Ratios.Limit = -1
	cfg.Ratios.Prices.FarOffsetDays = 10
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratios.workers must be between 1 and 64")
	assert.Contains(t, err.Error(), "ratios.limit must be >= 0")
	assert.Contains(t, err.Error(), "far_offset_days")
}

func TestValidateImport(t *testing.T) {
	cfg := validConfig(t)
	cfg.Compute.Backend = "ignored-for-import"
	assert.NoError(t, cfg.Validate("import"))

	cfg.EDGAR.BaseURL = ""
	err := cfg.Validate("import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edgar.base_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validConfig(t)
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
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
