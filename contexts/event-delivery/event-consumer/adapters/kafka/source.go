package kafkaadapter

import (
	"context"

	"folio/contexts/event-delivery/event-consumer/domain/entities"
	"folio/internal/platform/messaging"
)

// Source adapts a bus reader to ports.MessageSource.
type Source struct {
	reader messaging.Reader
}

func NewSource(reader messaging.Reader) *Source {
	return &Source{reader: reader}
}

func (s *Source) Fetch(ctx context.Context) (entities.Delivery, error) {
	message, err := s.reader.Fetch(ctx)
	if err != nil {
		return entities.Delivery{}, err
	}
	return ToDelivery(message), nil
}

func (s *Source) Commit(ctx context.Context, delivery entities.Delivery) error {
	return s.reader.Commit(ctx, messaging.Message{
		Topic:     delivery.Channel,
		Partition: delivery.Partition,
		Offset:    delivery.Offset,
	})
}

func (s *Source) Close() error {
	return s.reader.Close()
}

func ToDelivery(message messaging.Message) entities.Delivery {
	return entities.Delivery{
		Channel:   message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       message.Key,
		Value:     message.Value,
		Headers:   message.Headers,
		Timestamp: message.Time,
	}
}
