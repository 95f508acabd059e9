package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"folio/contexts/event-delivery/outbox-relay/domain/entities"
	domainerrors "folio/contexts/event-delivery/outbox-relay/domain/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxTable        = "outbox_events"
	outboxArchiveTable = "outbox_events_archive"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// WithTx returns a repository bound to an open transaction. Producers use it
// to write outbox rows atomically with their own changes.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx, logger: r.logger}
}

// WithinTransaction runs fn in one database transaction and hands it both the
// raw handle and a transaction-bound repository.
func (r *Repository) WithinTransaction(ctx context.Context, fn func(tx *gorm.DB, outbox *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, r.WithTx(tx))
	})
}

// Migrate creates the outbox and archive tables with the eligibility index.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&outboxEventModel{}, &outboxArchiveModel{})
}

func (r *Repository) Save(ctx context.Context, event entities.OutboxEvent) error {
	if !event.Validate() {
		return domainerrors.ErrInvalidOutboxEvent
	}
	row := fromEntity(event)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateOutboxEvent
		}
		return err
	}
	return nil
}

// FindEligibleForUpdate selects due rows with FOR UPDATE SKIP LOCKED and
// stamps the claim in the same transaction. The row lock is released on
// commit; the claim keeps other relays away until it lapses.
func (r *Repository) FindEligibleForUpdate(ctx context.Context, limit int, now time.Time, claim entities.Claim) ([]entities.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	if !claim.Valid() {
		return nil, domainerrors.ErrInvalidRelayConfig
	}

	var rows []outboxEventModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", string(entities.OutboxStatusPending)).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now).
			Where("(locked_until IS NULL OR locked_until <= ?)", now).
			Order("created_at ASC").
			Order("event_id ASC").
			Limit(limit).
			Find(&rows).
			Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.EventID)
		}
		owner := claim.Owner
		until := claim.Until.UTC()
		if err := tx.Model(&outboxEventModel{}).
			Where("event_id IN ?", ids).
			Updates(map[string]any{
				"locked_by":    owner,
				"locked_until": until,
			}).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].LockedBy = &owner
			rows[i].LockedUntil = &until
		}
		return nil
	})
	if err != nil {
		r.logger.Error("outbox claim query failed",
			"event", "outbox_postgres_claim_failed",
			"module", "event-delivery/outbox-relay",
			"layer", "adapter",
			"error", err.Error(),
		)
		return nil, err
	}

	events := make([]entities.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEntity())
	}
	return events, nil
}

func (r *Repository) MarkSent(ctx context.Context, eventID string, owner string, sentAt time.Time) error {
	return r.transition(ctx, eventID, owner, map[string]any{
		"status":       string(entities.OutboxStatusSent),
		"sent_at":      sentAt.UTC(),
		"locked_by":    nil,
		"locked_until": nil,
	})
}

func (r *Repository) MarkRetry(ctx context.Context, eventID string, owner string, retryCount int, nextRetryAt time.Time, lastError string) error {
	return r.transition(ctx, eventID, owner, map[string]any{
		"retry_count":   retryCount,
		"next_retry_at": nextRetryAt.UTC(),
		"last_error":    lastError,
		"locked_by":     nil,
		"locked_until":  nil,
	})
}

func (r *Repository) MarkFailed(ctx context.Context, eventID string, owner string, retryCount int, lastError string) error {
	return r.transition(ctx, eventID, owner, map[string]any{
		"status":       string(entities.OutboxStatusFailed),
		"retry_count":  retryCount,
		"last_error":   lastError,
		"locked_by":    nil,
		"locked_until": nil,
	})
}

// ArchiveSent moves up to limit SENT rows older than sentBefore into the
// archive table in one statement.
func (r *Repository) ArchiveSent(ctx context.Context, sentBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	result := r.db.WithContext(ctx).Exec(`
WITH moved AS (
	DELETE FROM `+outboxTable+`
	WHERE event_id IN (
		SELECT event_id FROM `+outboxTable+`
		WHERE status = ? AND sent_at < ?
		ORDER BY sent_at
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	)
	RETURNING event_id, aggregate_type, aggregate_id, event_type, payload, trace_id,
		idempotency_key, status, retry_count, next_retry_at, last_error,
		created_at, sent_at
)
INSERT INTO `+outboxArchiveTable+` (event_id, aggregate_type, aggregate_id, event_type, payload, trace_id,
	idempotency_key, status, retry_count, next_retry_at, last_error, created_at, sent_at, archived_at)
SELECT event_id, aggregate_type, aggregate_id, event_type, payload, trace_id,
	idempotency_key, status, retry_count, next_retry_at, last_error, created_at, sent_at, NOW()
FROM moved`, string(entities.OutboxStatusSent), sentBefore.UTC(), limit)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *Repository) transition(ctx context.Context, eventID string, owner string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&outboxEventModel{}).
		Where("event_id = ? AND status = ? AND locked_by = ?", eventID, string(entities.OutboxStatusPending), owner).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&outboxEventModel{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domainerrors.ErrOutboxEventNotFound
	}
	return domainerrors.ErrClaimLost
}

type outboxEventModel struct {
	EventID        string     `gorm:"column:event_id;primaryKey"`
	AggregateType  string     `gorm:"column:aggregate_type;not null"`
	AggregateID    string     `gorm:"column:aggregate_id;not null"`
	EventType      string     `gorm:"column:event_type;not null"`
	Payload        string     `gorm:"column:payload;type:jsonb;not null"`
	TraceID        *string    `gorm:"column:trace_id"`
	IdempotencyKey *string    `gorm:"column:idempotency_key"`
	Status         string     `gorm:"column:status;not null;index:idx_outbox_events_eligible,priority:1"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0"`
	NextRetryAt    *time.Time `gorm:"column:next_retry_at;index:idx_outbox_events_eligible,priority:2"`
	LastError      *string    `gorm:"column:last_error"`
	LockedBy       *string    `gorm:"column:locked_by"`
	LockedUntil    *time.Time `gorm:"column:locked_until"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index:idx_outbox_events_eligible,priority:3"`
	SentAt         *time.Time `gorm:"column:sent_at"`
}

func (outboxEventModel) TableName() string {
	return outboxTable
}

type outboxArchiveModel struct {
	EventID        string     `gorm:"column:event_id;primaryKey"`
	AggregateType  string     `gorm:"column:aggregate_type;not null"`
	AggregateID    string     `gorm:"column:aggregate_id;not null"`
	EventType      string     `gorm:"column:event_type;not null"`
	Payload        string     `gorm:"column:payload;type:jsonb;not null"`
	TraceID        *string    `gorm:"column:trace_id"`
	IdempotencyKey *string    `gorm:"column:idempotency_key"`
	Status         string     `gorm:"column:status;not null"`
	RetryCount     int        `gorm:"column:retry_count;not null"`
	NextRetryAt    *time.Time `gorm:"column:next_retry_at"`
	LastError      *string    `gorm:"column:last_error"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	ArchivedAt     time.Time  `gorm:"column:archived_at;not null"`
}

func (outboxArchiveModel) TableName() string {
	return outboxArchiveTable
}

func fromEntity(event entities.OutboxEvent) outboxEventModel {
	return outboxEventModel{
		EventID:        event.EventID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        string(event.Payload),
		TraceID:        optionalString(event.TraceID),
		IdempotencyKey: optionalString(event.IdempotencyKey),
		Status:         string(event.Status),
		RetryCount:     event.RetryCount,
		NextRetryAt:    utcPtr(event.NextRetryAt),
		LastError:      optionalString(event.LastError),
		LockedBy:       optionalString(event.LockedBy),
		LockedUntil:    utcPtr(event.LockedUntil),
		CreatedAt:      event.CreatedAt.UTC(),
		SentAt:         utcPtr(event.SentAt),
	}
}

func (m outboxEventModel) toEntity() entities.OutboxEvent {
	return entities.OutboxEvent{
		EventID:        m.EventID,
		AggregateType:  m.AggregateType,
		AggregateID:    m.AggregateID,
		EventType:      m.EventType,
		Payload:        []byte(m.Payload),
		TraceID:        derefString(m.TraceID),
		IdempotencyKey: derefString(m.IdempotencyKey),
		Status:         entities.OutboxStatus(m.Status),
		RetryCount:     m.RetryCount,
		NextRetryAt:    utcPtr(m.NextRetryAt),
		LastError:      derefString(m.LastError),
		LockedBy:       derefString(m.LockedBy),
		LockedUntil:    utcPtr(m.LockedUntil),
		CreatedAt:      m.CreatedAt.UTC(),
		SentAt:         utcPtr(m.SentAt),
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
