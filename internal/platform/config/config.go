package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const topicOverridePrefix = "OUTBOX_TOPIC_"

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string

	KafkaBrokers       []string
	KafkaConsumerGroup string

	Relay       RelayConfig
	Retry       RetryConfig
	Idempotency IdempotencyConfig
	Consumer    ConsumerConfig
	DeadLetter  DeadLetterConfig

	// TopicOverrides maps a route family name (ASSET, WORKFLOW, ...) to a
	// channel, read from OUTBOX_TOPIC_<FAMILY>.
	TopicOverrides map[string]string
}

type RelayConfig struct {
	Enabled         bool
	BatchSize       int
	PollInterval    time.Duration
	InitialDelay    time.Duration
	LockLease       time.Duration
	CycleTimeout    time.Duration
	ArchiveAfter    time.Duration
	ArchiveInterval time.Duration
}

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterRatio  float64
}

type IdempotencyConfig struct {
	ProcessingTTL time.Duration
	CompletedTTL  time.Duration
	KeyPrefix     string
}

type ConsumerConfig struct {
	Enabled     bool
	Topics      []string
	MaxAttempts int
	// EventTypes are the event names the activity handler is registered for.
	EventTypes []string
}

type DeadLetterConfig struct {
	// ReprocessStaleAfter is how long a REPROCESSING record may go without a
	// recorded outcome before another reprocess request can reclaim it.
	ReprocessStaleAfter time.Duration
}

func Load() (Config, error) {
	env := loader{}
	cfg := Config{
		ServiceName: env.str("SERVICE_NAME", "folio"),
		HTTPPort:    env.str("HTTP_PORT", "8080"),
		PostgresDSN: env.str("POSTGRES_DSN", ""),

		RedisAddr:     env.str("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       env.integer("REDIS_DB", 0),

		MongoURI:      env.str("MONGO_URI", ""),
		MongoDatabase: env.str("MONGO_DATABASE", "folio"),

		KafkaBrokers:       env.list("KAFKA_BROKERS"),
		KafkaConsumerGroup: env.str("KAFKA_CONSUMER_GROUP", "folio-worker"),

		Relay: RelayConfig{
			Enabled:         envBool("OUTBOX_RELAY_ENABLED", true),
			BatchSize:       env.integer("OUTBOX_RELAY_BATCH_SIZE", 100),
			PollInterval:    env.duration("OUTBOX_RELAY_POLL_INTERVAL", time.Second),
			InitialDelay:    env.duration("OUTBOX_RELAY_INITIAL_DELAY", 5*time.Second),
			LockLease:       env.duration("OUTBOX_RELAY_LOCK_LEASE", 30*time.Second),
			CycleTimeout:    env.duration("OUTBOX_RELAY_CYCLE_TIMEOUT", 20*time.Second),
			ArchiveAfter:    env.duration("OUTBOX_ARCHIVE_AFTER", 7*24*time.Hour),
			ArchiveInterval: env.duration("OUTBOX_ARCHIVE_INTERVAL", time.Hour),
		},
		Retry: RetryConfig{
			MaxRetries:   env.integer("OUTBOX_RETRY_MAX_RETRIES", 10),
			InitialDelay: env.duration("OUTBOX_RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:     env.duration("OUTBOX_RETRY_MAX_DELAY", 5*time.Minute),
			Multiplier:   env.number("OUTBOX_RETRY_MULTIPLIER", 2.0),
			JitterRatio:  env.number("OUTBOX_RETRY_JITTER_RATIO", 0.2),
		},
		Idempotency: IdempotencyConfig{
			ProcessingTTL: env.duration("IDEMPOTENCY_PROCESSING_TTL", 5*time.Minute),
			CompletedTTL:  env.duration("IDEMPOTENCY_COMPLETED_TTL", 7*24*time.Hour),
			KeyPrefix:     env.str("IDEMPOTENCY_KEY_PREFIX", "idem"),
		},
		Consumer: ConsumerConfig{
			Enabled:     envBool("CONSUMER_ENABLED", true),
			Topics:      env.list("CONSUMER_TOPICS"),
			MaxAttempts: env.integer("CONSUMER_MAX_ATTEMPTS", 3),
			EventTypes:  env.list("CONSUMER_EVENT_TYPES"),
		},
		DeadLetter: DeadLetterConfig{
			ReprocessStaleAfter: env.duration("DLQ_REPROCESS_STALE_AFTER", 10*time.Minute),
		},
		TopicOverrides: topicOverrides(os.Environ()),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects relay, retry, guard and consumer values the runtime
// cannot operate with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Relay.BatchSize > 0, "OUTBOX_RELAY_BATCH_SIZE must be > 0, got %d", c.Relay.BatchSize)
	check(c.Relay.PollInterval > 0, "OUTBOX_RELAY_POLL_INTERVAL must be > 0")
	check(c.Relay.InitialDelay >= 0, "OUTBOX_RELAY_INITIAL_DELAY must be >= 0")
	check(c.Relay.LockLease > 0, "OUTBOX_RELAY_LOCK_LEASE must be > 0")
	check(c.Relay.CycleTimeout > 0, "OUTBOX_RELAY_CYCLE_TIMEOUT must be > 0")
	check(c.Relay.CycleTimeout <= c.Relay.LockLease, "OUTBOX_RELAY_CYCLE_TIMEOUT must not exceed OUTBOX_RELAY_LOCK_LEASE")
	check(c.Relay.ArchiveAfter > 0, "OUTBOX_ARCHIVE_AFTER must be > 0")
	check(c.Relay.ArchiveInterval > 0, "OUTBOX_ARCHIVE_INTERVAL must be > 0")

	check(c.Retry.MaxRetries >= 0, "OUTBOX_RETRY_MAX_RETRIES must be >= 0, got %d", c.Retry.MaxRetries)
	check(c.Retry.InitialDelay > 0, "OUTBOX_RETRY_INITIAL_DELAY must be > 0")
	check(c.Retry.MaxDelay >= c.Retry.InitialDelay, "OUTBOX_RETRY_MAX_DELAY must be >= OUTBOX_RETRY_INITIAL_DELAY")
	check(c.Retry.Multiplier >= 1.0, "OUTBOX_RETRY_MULTIPLIER must be >= 1.0, got %v", c.Retry.Multiplier)
	check(c.Retry.JitterRatio >= 0 && c.Retry.JitterRatio <= 1, "OUTBOX_RETRY_JITTER_RATIO must be within [0,1], got %v", c.Retry.JitterRatio)

	check(c.Idempotency.ProcessingTTL > 0, "IDEMPOTENCY_PROCESSING_TTL must be > 0")
	check(c.Idempotency.CompletedTTL > 0, "IDEMPOTENCY_COMPLETED_TTL must be > 0")

	check(c.DeadLetter.ReprocessStaleAfter > 0, "DLQ_REPROCESS_STALE_AFTER must be > 0")
	check(c.Consumer.MaxAttempts >= 1, "CONSUMER_MAX_ATTEMPTS must be >= 1, got %d", c.Consumer.MaxAttempts)
	check(c.RedisDB >= 0, "REDIS_DB must be >= 0")

	return errors.Join(errs...)
}

// UsesKafka reports whether a broker list was configured. Without one the
// processes run on the in-memory bus.
func (c Config) UsesKafka() bool {
	return len(c.KafkaBrokers) > 0
}

type loader struct {
	errs []error
}

func (l *loader) str(name string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func (l *loader) integer(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid integer %q", name, raw))
		return fallback
	}
	return value
}

func (l *loader) number(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid number %q", name, raw))
		return fallback
	}
	return value
}

func (l *loader) duration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid duration %q", name, raw))
		return fallback
	}
	return value
}

func (l *loader) list(name string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(name), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			values = append(values, value)
		}
	}
	return values
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func topicOverrides(environ []string) map[string]string {
	overrides := make(map[string]string)
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, topicOverridePrefix) {
			continue
		}
		family := strings.ToUpper(strings.TrimPrefix(name, topicOverridePrefix))
		if family == "" || strings.TrimSpace(value) == "" {
			continue
		}
		overrides[family] = strings.TrimSpace(value)
	}
	return overrides
}
