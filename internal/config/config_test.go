package config_test

import (
	"testing"
	"time"

	"github.com/mkravets/vidprep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv is a helper that sets environment variables for a test and restores them after.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
}

// validEnv returns the minimum set of valid environment variables.
func validEnv() map[string]string {
	return map[string]string{
		"REDIS_URL":        "redis://localhost:6379",
		"OPENAI_API_KEY":   "sk-test",
		"UNSCREEN_API_KEY": "un-test",
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setEnv(t, validEnv())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrentJobs)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, int64(100<<20), cfg.Upload.MaxVideoSize)
	assert.Equal(t, []string{".mp4", ".mov", ".avi", ".mkv"}, cfg.Upload.Formats)
	assert.Equal(t, "whisper-1", cfg.Whisper.Model)
	assert.Equal(t, "https://api.unscreen.com/v1.0", cfg.Unscreen.BaseURL)
}

func TestLoad_CustomPort(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("VIDPREP_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_CustomRetrySchedule(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("STEP_MAX_RETRIES", "5")
	t.Setenv("STEP_RETRY_BASE_DELAY", "500ms")
	t.Setenv("STEP_RETRY_MAX_DELAY", "10s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.RetryMaxDelay)
}

func TestLoad_MissingRedisURL(t *testing.T) {
	env := validEnv()
	delete(env, "REDIS_URL")
	setEnv(t, env)
	t.Setenv("REDIS_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoad_MissingOpenAIKey(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("OPENAI_API_KEY", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoad_MissingUnscreenKey(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("UNSCREEN_API_KEY", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNSCREEN_API_KEY")
}

func TestLoad_PostgresBackendRequiresDatabaseURL(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_UnknownBackend(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("STORE_BACKEND", "dynamo")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestLoad_InvalidUnscreenBaseURL(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("UNSCREEN_BASE_URL", "ftp://example.com")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNSCREEN_BASE_URL")
}

func TestLoad_CustomFormats(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("SUPPORTED_VIDEO_FORMATS", ".mp4, .WEBM")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{".mp4", ".webm"}, cfg.Upload.Formats)
}

func TestLoad_ZeroConcurrencyRejected(t *testing.T) {
	setEnv(t, validEnv())
	t.Setenv("MAX_CONCURRENT_JOBS", "0")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_JOBS")
}
