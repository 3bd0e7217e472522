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

	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())

	assert.Equal(t, time.Hour, cfg.ScheduleInterval)
	assert.Equal(t, 12, cfg.MinHoursBetweenRuns)
	assert.Equal(t, 2, cfg.MaxRunsPerDay)

	assert.Equal(t, 2, cfg.L1JobLimit)
	assert.Equal(t, 4, cfg.L2JobLimit)
	assert.Equal(t, 1, cfg.L3JobLimit)
	assert.True(t, cfg.L1FilterGoogleIndexed)

	assert.Equal(t, 2*time.Second, cfg.StreamBlockTimeout)
	assert.Equal(t, 10, cfg.MaxConsecutiveErrors)
	assert.Equal(t, 60*time.Second, cfg.RecoveryInterval)
	assert.Equal(t, 30*time.Second, cfg.GracefulShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.BingRequestTimeout)
	assert.Equal(t, 5, cfg.BingMaxConcurrent)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SCHEDULE_INTERVAL", "30m")
	t.Setenv("L1_FILTER_GOOGLE_INDEXED", "false")
	t.Setenv("MAX_RUNS_PER_DAY", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Equal(t, 30*time.Minute, cfg.ScheduleInterval)
	assert.False(t, cfg.L1FilterGoogleIndexed)
	assert.Equal(t, 5, cfg.MaxRunsPerDay)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SCHEDULE_INTERVAL", "often")

	_, err := Load()
	assert.Error(t, err)
}
