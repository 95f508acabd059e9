package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("OUTBOX_RELAY_BATCH_SIZE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.False(t, cfg.UsesKafka())
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, 100, cfg.Relay.BatchSize)
	assert.Equal(t, time.Second, cfg.Relay.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Relay.LockLease)
	assert.Equal(t, RetryConfig{
		MaxRetries:   10,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		JitterRatio:  0.2,
	}, cfg.Retry)
	assert.Equal(t, 7*24*time.Hour, cfg.Idempotency.CompletedTTL)
	assert.Equal(t, "idem", cfg.Idempotency.KeyPrefix)
	assert.Equal(t, 3, cfg.Consumer.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.DeadLetter.ReprocessStaleAfter)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("CONSUMER_TOPICS", "content.index.events,content.asset.events")
	t.Setenv("CONSUMER_EVENT_TYPES", "ASSET_STORED, INDEX_REQUESTED.v1")
	t.Setenv("OUTBOX_RELAY_ENABLED", "off")
	t.Setenv("OUTBOX_RETRY_MAX_RETRIES", "0")
	t.Setenv("OUTBOX_RETRY_JITTER_RATIO", "0.5")
	t.Setenv("OUTBOX_TOPIC_index", "search.events")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"content.index.events", "content.asset.events"}, cfg.Consumer.Topics)
	assert.Equal(t, []string{"ASSET_STORED", "INDEX_REQUESTED.v1"}, cfg.Consumer.EventTypes)
	assert.False(t, cfg.Relay.Enabled)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, 0.5, cfg.Retry.JitterRatio)
	assert.Equal(t, "search.events", cfg.TopicOverrides["INDEX"])
}

func TestLoadRejectsMalformedAndInvalidValues(t *testing.T) {
	t.Setenv("OUTBOX_RELAY_BATCH_SIZE", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTBOX_RELAY_BATCH_SIZE")

	t.Setenv("OUTBOX_RELAY_BATCH_SIZE", "0")
	t.Setenv("OUTBOX_RETRY_MULTIPLIER", "0.5")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTBOX_RELAY_BATCH_SIZE must be > 0")
	assert.Contains(t, err.Error(), "OUTBOX_RETRY_MULTIPLIER")
}

func TestValidateRetryBounds(t *testing.T) {
	t.Setenv("OUTBOX_RETRY_INITIAL_DELAY", "10s")
	t.Setenv("OUTBOX_RETRY_MAX_DELAY", "1s")
	t.Setenv("OUTBOX_RETRY_JITTER_RATIO", "1.5")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTBOX_RETRY_MAX_DELAY")
	assert.Contains(t, err.Error(), "OUTBOX_RETRY_JITTER_RATIO")
}
