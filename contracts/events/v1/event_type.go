package v1

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidEventType = errors.New("invalid event type")

const versionSeparator = ".v"

// EventType is a logical event name plus its payload schema version,
// written on the wire as "NAME.vN".
type EventType struct {
	Name    string
	Version int
}

func NewEventType(name string, version int) (EventType, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return EventType{}, fmt.Errorf("%w: name is required", ErrInvalidEventType)
	}
	if version < 1 {
		return EventType{}, fmt.Errorf("%w: version must be >= 1, got %d", ErrInvalidEventType, version)
	}
	return EventType{Name: name, Version: version}, nil
}

// ParseEventType parses "NAME.vN". The name is upper-cased.
func ParseEventType(raw string) (EventType, error) {
	value := strings.TrimSpace(raw)
	idx := strings.LastIndex(strings.ToLower(value), versionSeparator)
	if idx <= 0 {
		return EventType{}, fmt.Errorf("%w: %q has no version suffix", ErrInvalidEventType, raw)
	}
	version, err := strconv.Atoi(value[idx+len(versionSeparator):])
	if err != nil {
		return EventType{}, fmt.Errorf("%w: %q has a non-numeric version", ErrInvalidEventType, raw)
	}
	return NewEventType(value[:idx], version)
}

func (t EventType) String() string {
	return t.Name + versionSeparator + strconv.Itoa(t.Version)
}

// NormalizeName strips an optional ".vN" suffix and upper-cases the rest.
// It never fails; callers that need a strict parse use ParseEventType.
func NormalizeName(raw string) string {
	value := strings.TrimSpace(raw)
	if idx := strings.LastIndex(strings.ToLower(value), versionSeparator); idx > 0 {
		if _, err := strconv.Atoi(value[idx+len(versionSeparator):]); err == nil {
			value = value[:idx]
		}
	}
	return strings.ToUpper(value)
}
