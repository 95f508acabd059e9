package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope is the canonical, versioned event envelope published to the bus.
// This package is contract-only and must stay backward compatible: readers
// ignore unknown fields and writers omit optional fields that are empty.
type Envelope struct {
	EventID        string          `json:"eventId"`
	EventType      string          `json:"eventType"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Producer       string          `json:"producer"`
	TraceID        string          `json:"traceId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Type parses EventType into its name and schema version.
func (e Envelope) Type() (EventType, error) {
	return ParseEventType(e.EventType)
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%w: eventId is required", ErrInvalidEnvelope)
	}
	if _, err := e.Type(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

func Marshal(envelope Envelope) ([]byte, error) {
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	envelope.OccurredAt = envelope.OccurredAt.UTC()
	return json.Marshal(envelope)
}

// Unmarshal decodes a wire envelope. Fields that are not part of the
// contract are dropped.
func Unmarshal(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := envelope.Validate(); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}
