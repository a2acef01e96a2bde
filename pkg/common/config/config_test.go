package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 3, cfg.QueueMaxConcurrent)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 120*time.Second, cfg.QueueParseTimeout)
	assert.Equal(t, 30*time.Second, cfg.QueueStorageTimeout)
	assert.Equal(t, 30*time.Second, cfg.SSEHeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.SSEConnectionTimeout)
	assert.Equal(t, 50, cfg.SSEBufferSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_MAX_CONCURRENT", "7")
	t.Setenv("SSE_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg := Load()

	assert.Equal(t, 7, cfg.QueueMaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.SSEHeartbeatInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("QUEUE_MAX_ATTEMPTS", "three")
	t.Setenv("QUEUE_BASE_BACKOFF", "soon")

	cfg := Load()

	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, time.Second, cfg.QueueBaseBackoff)
}
