package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8081, cfg.Server.AdminPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 100, cfg.Redis.PoolSize)
	assert.Equal(t, 10, cfg.Redis.MinIdleConns)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)

	assert.Equal(t, "file-processing", cfg.Queue.QueueName)
	assert.Equal(t, 604800, cfg.Queue.TaskTTLSeconds)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.Queue.BaseRetryDelay)
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, 10000, cfg.Queue.BatchSize)
	assert.Equal(t, 300000, cfg.Queue.ChunkTimeoutMs)

	assert.Equal(t, 1800000, cfg.Timeout.MaxProcessingTimeMs)
	assert.Equal(t, 60000, cfg.Timeout.TimeoutCheckIntervalMs)

	assert.Equal(t, 3600000, cfg.Recovery.AbandonedTaskThresholdMs)
	assert.Equal(t, 50, cfg.Recovery.RecoveryBatchSize)
	assert.True(t, cfg.Recovery.EnableAutoRecovery)
	assert.Equal(t, 600000, cfg.Recovery.RecoveryCheckIntervalMs)

	assert.True(t, cfg.Resource.EnableProgressTracking)
	assert.Equal(t, 1*time.Second, cfg.Resource.PerformanceSampleInterval)
	assert.Equal(t, 1800, cfg.Resource.MaxMemoryMB)
	assert.Equal(t, 95.0, cfg.Resource.MaxCPUUsage)
	assert.Equal(t, 1500, cfg.Resource.MemoryWarningThresholdMB)

	assert.False(t, cfg.FileRecord.Enabled)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.False(t, cfg.Auth.Enabled)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)

	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
server:
  host: "127.0.0.1"

redis:
  addr: "custom-redis:6380"
  password: "secret"
  db: 1

queue:
  queuename: "custom-files"
  workercount: 8

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "custom-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "custom-files", cfg.Queue.QueueName)
	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestQueueConfig_Fields(t *testing.T) {
	cfg := QueueConfig{
		QueueName:      "file-processing",
		TaskTTLSeconds: 604800,
		MaxRetries:     3,
		BaseRetryDelay: 1 * time.Second,
		WorkerCount:    4,
		BatchSize:      10000,
		ChunkTimeoutMs: 300000,
	}

	assert.Equal(t, "file-processing", cfg.QueueName)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.WorkerCount)
}

func TestResourceConfig_Fields(t *testing.T) {
	cfg := ResourceConfig{
		MaxMemoryMB:              1800,
		MaxCPUUsage:              95.0,
		MemoryWarningThresholdMB: 1500,
	}

	assert.Equal(t, 1800, cfg.MaxMemoryMB)
	assert.Equal(t, 95.0, cfg.MaxCPUUsage)
	assert.Equal(t, 1500, cfg.MemoryWarningThresholdMB)
}
