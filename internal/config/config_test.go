package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryBase)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, int64(25<<20), cfg.MaxFileSize)
	assert.Equal(t, 10*time.Minute, cfg.SweepAge)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FILEMILL_ADDRESS", ":9999")
	t.Setenv("FILEMILL_MAX_ATTEMPTS", "5")
	t.Setenv("FILEMILL_RETRY_BASE", "500ms")
	t.Setenv("FILEMILL_WORKERS", "12")
	t.Setenv("FILEMILL_S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Address)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBase)
	assert.Equal(t, 12, cfg.Concurrency)
	assert.True(t, cfg.S3UseSSL)
}

func TestLoadRejectsNonsense(t *testing.T) {
	t.Setenv("FILEMILL_MAX_ATTEMPTS", "-1")
	t.Setenv("FILEMILL_WORKERS", "not-a-number")
	// Liveness window below the processing delay would cause spurious
	// redelivery; Load falls back to the default.
	t.Setenv("FILEMILL_TASK_TIMEOUT", "1ms")
	t.Setenv("FILEMILL_PROCESSING_DELAY", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.TaskTimeout)
}
