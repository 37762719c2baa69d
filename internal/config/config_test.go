package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "postgres", cfg.DatabaseDriver)
	require.Equal(t, 10, cfg.PoolSize)
	require.Equal(t, 4, cfg.MaxConcurrentJobs)
	require.Equal(t, 1000, cfg.InferenceMaxSamples)
	require.Equal(t, 100, cfg.DetectorWindowSize)
	require.Equal(t, 2, cfg.AlertHysteresisThreshold)
	require.EqualValues(t, 600, cfg.AlertCooldown().Seconds())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("SENTINEL_PORT", "9000")
	os.Setenv("SENTINEL_DATABASE_DRIVER", "sqlite")
	os.Setenv("SENTINEL_LOG_LEVEL", "debug")
	os.Setenv("SENTINEL_MAX_CONCURRENT_JOBS", "8")
	defer func() {
		os.Unsetenv("SENTINEL_PORT")
		os.Unsetenv("SENTINEL_DATABASE_DRIVER")
		os.Unsetenv("SENTINEL_LOG_LEVEL")
		os.Unsetenv("SENTINEL_MAX_CONCURRENT_JOBS")
	}()

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 8, cfg.MaxConcurrentJobs)
}

func TestLoad_AllowedOriginsCommaSeparated(t *testing.T) {
	os.Clearenv()
	os.Setenv("SENTINEL_ALLOWED_ORIGINS", "http://localhost:3000,https://example.com")
	defer os.Unsetenv("SENTINEL_ALLOWED_ORIGINS")

	cfg, err := Load()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"http://localhost:3000", "https://example.com"}, cfg.AllowedOrigins)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

// TestLoad_YAMLFileOverlay writes a config.yaml overlay (marshaled with
// gopkg.in/yaml.v3) into the working directory search path and confirms
// Load() picks its values up ahead of the built-in defaults.
func TestLoad_YAMLFileOverlay(t *testing.T) {
	os.Clearenv()

	overlay := map[string]any{
		"port":                 9100,
		"log_level":            "warn",
		"max_concurrent_jobs":  6,
		"scorer_batch_size":    2500,
		"inference_max_samples": 250,
	}
	buf, err := yaml.Marshal(overlay)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), buf, 0o644))

	origWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { require.NoError(t, os.Chdir(origWD)) }()

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, 6, cfg.MaxConcurrentJobs)
	require.Equal(t, 2500, cfg.ScorerBatchSize)
	require.Equal(t, 250, cfg.InferenceMaxSamples)
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		PoolAcquireTimeoutSec: 5,
		ReconcileStaleTTLSec:  300,
		ReconcileIntervalSec:  60,
		ModelCacheTTLSec:      600,
		ShutdownTimeoutSec:    15,
	}
	require.EqualValues(t, 5, cfg.PoolAcquireTimeout().Seconds())
	require.EqualValues(t, 300, cfg.ReconcileStaleTTL().Seconds())
	require.EqualValues(t, 60, cfg.ReconcileInterval().Seconds())
	require.EqualValues(t, 600, cfg.ModelCacheTTL().Seconds())
	require.EqualValues(t, 15, cfg.ShutdownTimeout().Seconds())
}
