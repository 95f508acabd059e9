package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MemoryBus is an in-process bus used by local runs and tests. Every topic
// has one partition; offsets start at zero.
type MemoryBus struct {
	mu        sync.RWMutex
	offsets   map[string]int64
	log       map[string][]Message
	readers   map[string][]*MemoryReader
	committed map[string]int64
	logger    *slog.Logger
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		offsets:   make(map[string]int64),
		log:       make(map[string][]Message),
		readers:   make(map[string][]*MemoryReader),
		committed: make(map[string]int64),
		logger:    logger,
	}
}

func (b *MemoryBus) Write(ctx context.Context, messages ...Message) error {
	for _, message := range messages {
		if message.Topic == "" {
			return errors.New("message topic is required")
		}
		b.mu.Lock()
		message.Partition = 0
		message.Offset = b.offsets[message.Topic]
		if message.Time.IsZero() {
			message.Time = time.Now().UTC()
		}
		b.offsets[message.Topic]++
		b.log[message.Topic] = append(b.log[message.Topic], message)
		subs := append([]*MemoryReader(nil), b.readers[message.Topic]...)
		b.mu.Unlock()

		for _, sub := range subs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case sub.ch <- message:
			default:
				if b.logger != nil {
					b.logger.Warn("dropping message for slow reader",
						"event", "memory_bus_publish_drop",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", message.Topic,
						"offset", message.Offset,
					)
				}
			}
		}
	}
	return nil
}

// Subscribe returns a reader that receives messages written to topics after
// the call.
func (b *MemoryBus) Subscribe(topics ...string) *MemoryReader {
	reader := &MemoryReader{bus: b, topics: topics, ch: make(chan Message, 256)}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		b.readers[topic] = append(b.readers[topic], reader)
	}
	return reader
}

// Messages returns everything written to topic so far.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Message(nil), b.log[topic]...)
}

// Committed returns the next offset to read for topic, or -1 when nothing was
// committed.
func (b *MemoryBus) Committed(topic string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if offset, ok := b.committed[topic]; ok {
		return offset
	}
	return -1
}

func (b *MemoryBus) commit(message Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if next := message.Offset + 1; next > b.committed[message.Topic] {
		b.committed[message.Topic] = next
	}
}

func (b *MemoryBus) removeReader(target *MemoryReader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range target.topics {
		items := b.readers[topic]
		filtered := make([]*MemoryReader, 0, len(items))
		for _, item := range items {
			if item != target {
				filtered = append(filtered, item)
			}
		}
		b.readers[topic] = filtered
	}
}

// MemoryReader implements Reader over a MemoryBus subscription.
type MemoryReader struct {
	bus    *MemoryBus
	topics []string
	ch     chan Message
	once   sync.Once
}

func (r *MemoryReader) Fetch(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case message := <-r.ch:
		return message, nil
	}
}

func (r *MemoryReader) Commit(_ context.Context, message Message) error {
	r.bus.commit(message)
	return nil
}

func (r *MemoryReader) Close() error {
	r.once.Do(func() { r.bus.removeReader(r) })
	return nil
}
