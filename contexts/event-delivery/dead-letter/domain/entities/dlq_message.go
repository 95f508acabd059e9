package entities

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
)

const (
	DlqChannelSuffix = ".dlq"
	MaxStackBytes    = 4000
	MaxMessageBytes  = 1000
)

type DlqStatus string

const (
	DlqStatusPending      DlqStatus = "PENDING"
	DlqStatusReprocessing DlqStatus = "REPROCESSING"
	DlqStatusReprocessed  DlqStatus = "REPROCESSED"
	DlqStatusFailed       DlqStatus = "FAILED"
)

func (s DlqStatus) Valid() bool {
	switch s {
	case DlqStatusPending, DlqStatusReprocessing, DlqStatusReprocessed, DlqStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes PENDING|FAILED -> REPROCESSING -> REPROCESSED|FAILED.
func (s DlqStatus) CanTransitionTo(next DlqStatus) bool {
	switch s {
	case DlqStatusPending, DlqStatusFailed:
		return next == DlqStatusReprocessing
	case DlqStatusReprocessing:
		return next == DlqStatusReprocessed || next == DlqStatusFailed
	default:
		return false
	}
}

// SourceKey identifies the original delivery: channel:partition:offset.
func SourceKey(channel string, partition int, offset int64) string {
	return channel + ":" + strconv.Itoa(partition) + ":" + strconv.FormatInt(offset, 10)
}

func DlqChannelFor(channel string) string {
	return channel + DlqChannelSuffix
}

// EventMetadata is what could be read from the envelope of the failed
// message. Any field may be empty when the payload was not a valid envelope.
type EventMetadata struct {
	EventID        string
	EventType      string
	Producer       string
	TraceID        string
	IdempotencyKey string
}

type ErrorInfo struct {
	Type    string
	Message string
	Stack   string
}

// NewErrorInfo classifies err by its innermost wrapped type and truncates the
// message and stack to storage limits.
func NewErrorInfo(err error, errType string, stack string) ErrorInfo {
	info := ErrorInfo{Type: strings.TrimSpace(errType), Stack: TruncateUTF8(stack, MaxStackBytes)}
	if err == nil {
		if info.Type == "" {
			info.Type = "unknown"
		}
		return info
	}
	if info.Type == "" {
		info.Type = fmt.Sprintf("%T", rootCause(err))
	}
	info.Message = TruncateUTF8(err.Error(), MaxMessageBytes)
	return info
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// TruncateUTF8 cuts value to at most limit bytes without splitting a rune.
func TruncateUTF8(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

type DlqMessage struct {
	ID                  string
	SourceKey           string
	DlqChannel          string
	OriginalChannel     string
	OriginalPartition   int
	OriginalOffset      int64
	OriginalTimestamp   time.Time
	MessageKey          string
	Payload             []byte
	Headers             map[string]string
	Event               EventMetadata
	Error               ErrorInfo
	Status              DlqStatus
	ReprocessCount      int
	LastReprocessedBy   string
	LastReprocessReason string
	LastReprocessError  string
	LastReprocessedAt   *time.Time
	StoredAt            time.Time
	UpdatedAt           time.Time
}

func (m DlqMessage) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return fmt.Errorf("%w: id is required", domainerrors.ErrInvalidDlqMessage)
	case strings.TrimSpace(m.OriginalChannel) == "":
		return fmt.Errorf("%w: original channel is required", domainerrors.ErrInvalidDlqMessage)
	case m.SourceKey != SourceKey(m.OriginalChannel, m.OriginalPartition, m.OriginalOffset):
		return fmt.Errorf("%w: source key does not match origin", domainerrors.ErrInvalidDlqMessage)
	case !m.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", domainerrors.ErrInvalidDlqMessage, m.Status)
	case m.ReprocessCount < 0:
		return fmt.Errorf("%w: reprocess count must be >= 0", domainerrors.ErrInvalidDlqMessage)
	case m.StoredAt.IsZero():
		return fmt.Errorf("%w: stored timestamp is required", domainerrors.ErrInvalidDlqMessage)
	}
	return nil
}

// ReprocessStale reports whether a REPROCESSING attempt started at least
// after ago and its outcome was never recorded.
func (m DlqMessage) ReprocessStale(now time.Time, after time.Duration) bool {
	if m.Status != DlqStatusReprocessing || after <= 0 || m.LastReprocessedAt == nil {
		return false
	}
	return !m.LastReprocessedAt.After(now.UTC().Add(-after))
}

// BeginReprocess moves a PENDING or FAILED message to REPROCESSING and
// counts the attempt.
func (m *DlqMessage) BeginReprocess(actor string, reason string, now time.Time) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domainerrors.ErrReprocessActorRequired
	}
	if !m.Status.CanTransitionTo(DlqStatusReprocessing) {
		return fmt.Errorf("%w: status %s", domainerrors.ErrReprocessNotAllowed, m.Status)
	}
	at := now.UTC()
	m.Status = DlqStatusReprocessing
	m.ReprocessCount++
	m.LastReprocessedBy = actor
	m.LastReprocessReason = strings.TrimSpace(reason)
	m.LastReprocessedAt = &at
	m.UpdatedAt = at
	return nil
}

func (m *DlqMessage) CompleteReprocess(now time.Time) error {
	if !m.Status.CanTransitionTo(DlqStatusReprocessed) {
		return fmt.Errorf("%w: status %s", domainerrors.ErrReprocessNotAllowed, m.Status)
	}
	m.Status = DlqStatusReprocessed
	m.LastReprocessError = ""
	m.UpdatedAt = now.UTC()
	return nil
}

// FailReprocess records a failed attempt. The message stays actionable.
func (m *DlqMessage) FailReprocess(cause error, now time.Time) error {
	if !m.Status.CanTransitionTo(DlqStatusFailed) {
		return fmt.Errorf("%w: status %s", domainerrors.ErrReprocessNotAllowed, m.Status)
	}
	m.Status = DlqStatusFailed
	m.LastReprocessError = "unknown error"
	if cause != nil && strings.TrimSpace(cause.Error()) != "" {
		m.LastReprocessError = TruncateUTF8(cause.Error(), MaxMessageBytes)
	}
	m.UpdatedAt = now.UTC()
	return nil
}
