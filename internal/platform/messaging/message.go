package messaging

import (
	"context"
	"time"
)

// Message is one record on a bus channel. Partition and Offset are set by the
// bus on fetch.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// Writer hands messages to the bus and returns once the bus acknowledged
// them.
type Writer interface {
	Write(ctx context.Context, messages ...Message) error
}

// Reader fetches messages for a consumer group. Commit marks a message and
// everything before it on the same partition as done.
type Reader interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, message Message) error
	Close() error
}
