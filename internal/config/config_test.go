package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/config"
)

func TestGetConfig(t *testing.T) {
	t.Run("binds analytics settings from the environment", func(t *testing.T) {
		t.Setenv("FOLIO_ENV", config.Test)
		t.Setenv("FOLIO_ANALYTICS_IP_SALT", "pepper")
		t.Setenv("FOLIO_CRON_SECRET", "nightly")
		t.Setenv("FOLIO_PURGE_BATCH_SIZE", "250")
		t.Setenv("FOLIO_TIMEZONE", "Europe/Paris")
		config.Reset()
		t.Cleanup(config.Reset)

		cfg := config.GetConfig()
		assert.Equal(t, "pepper", cfg.AnalyticsIPSalt)
		assert.Equal(t, "nightly", cfg.CronSecret)
		assert.Equal(t, 250, cfg.PurgeBatchSize)
		assert.Equal(t, "Europe/Paris", cfg.Location().String())
		assert.True(t, cfg.IsTest())
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("FOLIO_ENV", config.Test)
		config.Reset()
		t.Cleanup(config.Reset)

		cfg := config.GetConfig()
		assert.Equal(t, config.DefaultIPSalt, cfg.AnalyticsIPSalt)
		assert.Equal(t, 20, cfg.AnalyticsPageSize)
		assert.Equal(t, 500, cfg.PurgeBatchSize)
		assert.Equal(t, 12*time.Hour, cfg.AdminTokenTTL())
		assert.False(t, cfg.RetentionJobEnabled)
		assert.Equal(t, time.UTC, cfg.Location())
	})

	t.Run("derives the database name from app and environment", func(t *testing.T) {
		t.Setenv("FOLIO_ENV", config.Test)
		t.Setenv("FOLIO_STORAGE_PATH", "/tmp/folio")
		config.Reset()
		t.Cleanup(config.Reset)

		cfg := config.GetConfig()
		require.NotEmpty(t, cfg.DatabaseName)
		assert.Equal(t, "/tmp/folio/folio-test.db", cfg.DatabaseDSN())
	})

	t.Run("database name and durations from the environment", func(t *testing.T) {
		t.Setenv("FOLIO_ENV", config.Test)
		t.Setenv("FOLIO_STORAGE_PATH", "/srv/data")
		t.Setenv("FOLIO_DATABASE_NAME", "portfolio.db")
		t.Setenv("FOLIO_ADMIN_TOKEN_TTL", "90m")
		t.Setenv("FOLIO_RETENTION_JOB_INTERVAL", "6h")
		config.Reset()
		t.Cleanup(config.Reset)

		cfg := config.GetConfig()
		assert.Equal(t, "/srv/data/portfolio.db", cfg.GetDatabasePath())
		assert.Equal(t, 90*time.Minute, cfg.AdminTokenTTL())
		assert.Equal(t, 6*time.Hour, cfg.RetentionJobInterval)
	})
}

func TestConnectionPoolDefaults(t *testing.T) {
	cfg := &config.Config{Environment: config.Test}
	assert.Equal(t, 1, cfg.GetMaxOpenConns())
	assert.Equal(t, 1, cfg.GetMaxIdleConns())

	cfg = &config.Config{Environment: config.Production}
	assert.Equal(t, 10, cfg.GetMaxOpenConns())
	assert.Equal(t, 5, cfg.GetMaxIdleConns())

	cfg.DatabaseMaxOpenConns = 3
	assert.Equal(t, 3, cfg.GetMaxOpenConns())
}
