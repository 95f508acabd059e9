package bootstrap

import (
	"context"
	"fmt"
	"sync"

	dlqcommands "folio/contexts/event-delivery/dead-letter/application/commands"
	dlqentities "folio/contexts/event-delivery/dead-letter/domain/entities"
	"folio/contexts/event-delivery/event-consumer/domain/entities"
	idemcommands "folio/contexts/event-delivery/idempotency-guard/application/commands"
	idementities "folio/contexts/event-delivery/idempotency-guard/domain/entities"
)

// Bridges adapt one context's use cases to another context's ports. They
// live here so the contexts never import each other.

// guardBridge exposes the idempotency guard to the consumer dispatcher.
type guardBridge struct {
	guard *idemcommands.Guard
}

func (b guardBridge) Begin(ctx context.Context, consumer string, eventID string) (entities.Admission, error) {
	decision, err := b.guard.TryBegin(ctx, consumer, eventID)
	if err != nil {
		return "", err
	}
	switch decision {
	case idementities.DecisionStarted:
		return entities.AdmissionStarted, nil
	case idementities.DecisionInProgress:
		return entities.AdmissionInProgress, nil
	case idementities.DecisionAlreadyCompleted:
		return entities.AdmissionAlreadyCompleted, nil
	default:
		return "", fmt.Errorf("unknown idempotency decision %q", decision)
	}
}

func (b guardBridge) Complete(ctx context.Context, consumer string, eventID string) error {
	return b.guard.MarkCompleted(ctx, consumer, eventID)
}

func (b guardBridge) Release(ctx context.Context, consumer string, eventID string) error {
	return b.guard.MarkFailed(ctx, consumer, eventID)
}

// deadLetterSink hands abandoned deliveries to the dead-letter capture.
type deadLetterSink struct {
	capture dlqcommands.CaptureMessageUseCase
}

func (s deadLetterSink) Capture(ctx context.Context, failure entities.Failure) error {
	_, err := s.capture.Execute(ctx, dlqcommands.CaptureMessageCommand{
		Channel:   failure.Delivery.Channel,
		Partition: failure.Delivery.Partition,
		Offset:    failure.Delivery.Offset,
		Timestamp: failure.Delivery.Timestamp,
		Key:       failure.Delivery.Key,
		Payload:   failure.Delivery.Value,
		Headers:   failure.Delivery.Headers,
		Cause:     failure.Cause,
		ErrorType: failure.ErrorType,
		Stack:     failure.Stack,
	})
	return err
}

// reprocessor is the dispatcher surface the dead-letter resubmitter needs.
type reprocessor interface {
	Reprocess(ctx context.Context, delivery entities.Delivery) error
}

// dispatcherResubmitter replays a stored message through the consumer
// dispatcher. The dead-letter module and the dispatcher depend on each
// other, so the target is attached once both exist.
type dispatcherResubmitter struct {
	mu     sync.RWMutex
	target reprocessor
}

func (r *dispatcherResubmitter) attach(target reprocessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
}

func (r *dispatcherResubmitter) Resubmit(ctx context.Context, message dlqentities.DlqMessage) error {
	r.mu.RLock()
	target := r.target
	r.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("resubmit %s: no consumer dispatcher attached", message.ID)
	}
	return target.Reprocess(ctx, toDelivery(message))
}

func toDelivery(message dlqentities.DlqMessage) entities.Delivery {
	headers := make(map[string]string, len(message.Headers))
	for key, value := range message.Headers {
		headers[key] = value
	}
	var key []byte
	if message.MessageKey != "" {
		key = []byte(message.MessageKey)
	}
	return entities.Delivery{
		Channel:   message.OriginalChannel,
		Partition: message.OriginalPartition,
		Offset:    message.OriginalOffset,
		Key:       key,
		Value:     append([]byte(nil), message.Payload...),
		Headers:   headers,
		Timestamp: message.OriginalTimestamp,
	}
}
