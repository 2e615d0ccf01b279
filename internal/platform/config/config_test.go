package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://caregov@localhost/caregov")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://caregov@localhost/caregov", cfg.Database.URL)
	assert.Equal(t, 2555, cfg.Retention.AuditDays)
	assert.Equal(t, 365, cfg.Retention.AccessLogDays)
	assert.Equal(t, 15*time.Minute, cfg.Retention.LockTTL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AUDIT_RETENTION_DAYS", "30")
	t.Setenv("SWEEP_LOCK_TTL", "90s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30, cfg.Retention.AuditDays)
	assert.Equal(t, 90*time.Second, cfg.Retention.LockTTL)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ACCESS_LOG_RETENTION_DAYS", "a year")

	_, err := Load()
	assert.Error(t, err)
}
