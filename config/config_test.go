package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE", "EVENTS", "ASSETS", "WAREHOUSE_WORKERS", "LOCK_TTL", "LOG_LEVEL", "REDIS_URL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "none", cfg.Events)
	assert.Equal(t, "file", cfg.Assets)
	assert.Equal(t, "orders", cfg.OrdersQueue)
	assert.Equal(t, 4, cfg.WarehouseWorkers)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE", "Postgres")
	t.Setenv("WAREHOUSE_WORKERS", "8")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ASSET_BASE_URL", "http://localhost:8080/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 8, cfg.WarehouseWorkers)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "http://localhost:8080", cfg.AssetBaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE": "mongo"}},
		{"bad workers", map[string]string{"WAREHOUSE_WORKERS": "0"}},
		{"bad ttl", map[string]string{"LOCK_TTL": "soon"}},
		{"sqs without queue", map[string]string{"EVENTS": "sqs", "SQS_QUEUE_URL": ""}},
		{"s3 without bucket", map[string]string{"ASSETS": "s3", "S3_BUCKET": ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
