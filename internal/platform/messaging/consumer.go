package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	GroupID string

	// StartOffset applies when the group has no committed offset: "first" or
	// "last" (default).
	StartOffset string
}

// Consumer reads a set of topics as one consumer group. Offsets are only
// committed through Commit.
type Consumer struct {
	mu  sync.Mutex
	r   *kafka.Reader
	cfg ConsumerConfig
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("consumer group and topics are required")
	}
	return &Consumer{cfg: cfg, r: newReader(cfg)}, nil
}

func newReader(cfg ConsumerConfig) *kafka.Reader {
	start := kafka.LastOffset
	if strings.EqualFold(cfg.StartOffset, "first") {
		start = kafka.FirstOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		StartOffset:    start,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		CommitInterval: 0,
	})
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	r, err := c.reader()
	if err != nil {
		return Message{}, err
	}
	record, err := r.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return fromKafkaMessage(record), nil
}

func (c *Consumer) Commit(ctx context.Context, message Message) error {
	r, err := c.reader()
	if err != nil {
		return err
	}
	return r.CommitMessages(ctx, kafka.Message{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
	})
}

// Reopen replaces the reader, e.g. after stale broker metadata.
func (c *Consumer) Reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r != nil {
		_ = c.r.Close()
	}
	c.r = newReader(c.cfg)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil
	}
	err := c.r.Close()
	c.r = nil
	return err
}

func (c *Consumer) reader() (*kafka.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil, errors.New("kafka consumer is closed")
	}
	return c.r, nil
}
