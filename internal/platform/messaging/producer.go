package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	WriteTimeout time.Duration
}

// Producer writes synchronously with acks from all in-sync replicas, hashing
// the message key to pick the partition.
type Producer struct {
	mu        sync.Mutex
	w         *kafka.Writer
	cfg       ProducerConfig
	lastReset time.Time
	logger    *slog.Logger
}

func NewProducer(cfg ProducerConfig, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{cfg: cfg, w: newWriter(cfg), logger: logger}, nil
}

func newWriter(cfg ProducerConfig) *kafka.Writer {
	// Short metadata TTL lets the writer recover after broker addresses move.
	transport := &kafka.Transport{
		ClientID:    cfg.ClientID,
		MetadataTTL: 10 * time.Second,
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
		Transport:              transport,
	}
}

func (p *Producer) Write(ctx context.Context, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(messages))
	for _, message := range messages {
		records = append(records, toKafkaMessage(message))
	}

	write := func() error {
		p.mu.Lock()
		w := p.w
		p.mu.Unlock()
		if w == nil {
			return errors.New("kafka producer is closed")
		}
		writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return w.WriteMessages(writeCtx, records...)
	}

	err := write()
	if err != nil && shouldReset(err) {
		p.logger.Warn("kafka writer reset after transport error",
			"event", "kafka_writer_reset",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"error", err.Error(),
		)
		p.resetOnce()
		err = write()
	}
	return err
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return nil
	}
	err := p.w.Close()
	p.w = nil
	return err
}

func (p *Producer) resetOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastReset) < 2*time.Second {
		return
	}
	if p.w != nil {
		_ = p.w.Close()
	}
	p.w = newWriter(p.cfg)
	p.lastReset = time.Now()
}

func shouldReset(err error) bool {
	message := strings.ToLower(err.Error())
	for _, suspect := range []string{
		"dial tcp",
		"connection refused",
		"i/o timeout",
		"broken pipe",
		"not leader",
		"unknown broker",
		"failed to dial",
	} {
		if strings.Contains(message, suspect) {
			return true
		}
	}
	return false
}

func toKafkaMessage(message Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(message.Headers))
	for key, value := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	return kafka.Message{
		Topic:   message.Topic,
		Key:     message.Key,
		Value:   message.Value,
		Headers: headers,
		Time:    message.Time,
	}
}

func fromKafkaMessage(record kafka.Message) Message {
	headers := make(map[string]string, len(record.Headers))
	for _, header := range record.Headers {
		headers[header.Key] = string(header.Value)
	}
	return Message{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   headers,
		Time:      record.Time,
	}
}
