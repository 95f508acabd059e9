package mongoadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"folio/contexts/event-delivery/dead-letter/domain/entities"
	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
	"folio/contexts/event-delivery/dead-letter/ports"
)

const DefaultCollection = "dlq_messages"

// Repository stores captured messages in one Mongo collection with a unique
// index on source_key.
type Repository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

func NewRepository(database *mongo.Database, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{collection: database.Collection(DefaultCollection), logger: logger}
}

// EnsureIndexes creates the source key uniqueness index and the search index.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "source_key", Value: 1}},
			Options: options.Index().SetName("ux_dlq_source_key").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "original_channel", Value: 1}, {Key: "stored_at", Value: -1}},
			Options: options.Index().SetName("ix_dlq_search"),
		},
	})
	if err != nil {
		return fmt.Errorf("create dlq indexes: %w", err)
	}
	return nil
}

func (r *Repository) Insert(ctx context.Context, message entities.DlqMessage) error {
	if err := message.Validate(); err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, toDocument(message)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainerrors.ErrDuplicateSourceKey
		}
		return fmt.Errorf("insert dlq message: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, message entities.DlqMessage, expected entities.DlqStatus) error {
	result, err := r.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: message.ID}, {Key: "status", Value: string(expected)}},
		toDocument(message),
	)
	if err != nil {
		return fmt.Errorf("update dlq message: %w", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.D{{Key: "_id", Value: message.ID}})
	if err != nil {
		return fmt.Errorf("check dlq message: %w", err)
	}
	if count == 0 {
		return domainerrors.ErrDlqMessageNotFound
	}
	r.logger.Warn("dlq conditional update lost",
		"event", "dlq_update_conflict",
		"module", "event-delivery/dead-letter",
		"layer", "adapter",
		"dlq_id", message.ID,
		"expected_status", string(expected),
	)
	return domainerrors.ErrConcurrentUpdate
}

func (r *Repository) FindByID(ctx context.Context, id string) (entities.DlqMessage, error) {
	message, found, err := r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return entities.DlqMessage{}, err
	}
	if !found {
		return entities.DlqMessage{}, domainerrors.ErrDlqMessageNotFound
	}
	return message, nil
}

func (r *Repository) FindBySourceKey(ctx context.Context, sourceKey string) (entities.DlqMessage, bool, error) {
	return r.findOne(ctx, bson.D{{Key: "source_key", Value: sourceKey}})
}

func (r *Repository) Search(ctx context.Context, filter ports.SearchFilter) (ports.SearchPage, error) {
	query := bson.D{}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: string(filter.Status)})
	}
	if filter.OriginalChannel != "" {
		query = append(query, bson.E{Key: "original_channel", Value: filter.OriginalChannel})
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return ports.SearchPage{}, fmt.Errorf("count dlq messages: %w", err)
	}

	page := ports.SearchPage{Items: []entities.DlqMessage{}, Total: total, Page: filter.Page, Size: filter.Size}
	skip, ok := filter.Offset()
	if !ok {
		return page, nil
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "stored_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(filter.Size))
	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return ports.SearchPage{}, fmt.Errorf("search dlq messages: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return ports.SearchPage{}, fmt.Errorf("decode dlq message: %w", err)
		}
		page.Items = append(page.Items, doc.toEntity())
	}
	if err := cursor.Err(); err != nil {
		return ports.SearchPage{}, fmt.Errorf("iterate dlq messages: %w", err)
	}
	return page, nil
}

func (r *Repository) findOne(ctx context.Context, filter bson.D) (entities.DlqMessage, bool, error) {
	var doc messageDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entities.DlqMessage{}, false, nil
	}
	if err != nil {
		return entities.DlqMessage{}, false, fmt.Errorf("find dlq message: %w", err)
	}
	return doc.toEntity(), true, nil
}

type eventDocument struct {
	EventID        string `bson:"event_id,omitempty"`
	EventType      string `bson:"event_type,omitempty"`
	Producer       string `bson:"producer,omitempty"`
	TraceID        string `bson:"trace_id,omitempty"`
	IdempotencyKey string `bson:"idempotency_key,omitempty"`
}

type errorDocument struct {
	Type    string `bson:"type"`
	Message string `bson:"message"`
	Stack   string `bson:"stack,omitempty"`
}

type messageDocument struct {
	ID                  string            `bson:"_id"`
	SourceKey           string            `bson:"source_key"`
	DlqChannel          string            `bson:"dlq_channel"`
	OriginalChannel     string            `bson:"original_channel"`
	OriginalPartition   int               `bson:"original_partition"`
	OriginalOffset      int64             `bson:"original_offset"`
	OriginalTimestamp   time.Time         `bson:"original_timestamp"`
	MessageKey          string            `bson:"message_key,omitempty"`
	Payload             []byte            `bson:"payload"`
	Headers             map[string]string `bson:"headers,omitempty"`
	Event               eventDocument     `bson:"event"`
	Error               errorDocument     `bson:"error"`
	Status              string            `bson:"status"`
	ReprocessCount      int               `bson:"reprocess_count"`
	LastReprocessedBy   string            `bson:"last_reprocessed_by,omitempty"`
	LastReprocessReason string            `bson:"last_reprocess_reason,omitempty"`
	LastReprocessError  string            `bson:"last_reprocess_error,omitempty"`
	LastReprocessedAt   *time.Time        `bson:"last_reprocessed_at,omitempty"`
	StoredAt            time.Time         `bson:"stored_at"`
	UpdatedAt           time.Time         `bson:"updated_at"`
}

func toDocument(message entities.DlqMessage) messageDocument {
	return messageDocument{
		ID:                message.ID,
		SourceKey:         message.SourceKey,
		DlqChannel:        message.DlqChannel,
		OriginalChannel:   message.OriginalChannel,
		OriginalPartition: message.OriginalPartition,
		OriginalOffset:    message.OriginalOffset,
		OriginalTimestamp: message.OriginalTimestamp,
		MessageKey:        message.MessageKey,
		Payload:           message.Payload,
		Headers:           message.Headers,
		Event: eventDocument{
			EventID:        message.Event.EventID,
			EventType:      message.Event.EventType,
			Producer:       message.Event.Producer,
			TraceID:        message.Event.TraceID,
			IdempotencyKey: message.Event.IdempotencyKey,
		},
		Error:               errorDocument{Type: message.Error.Type, Message: message.Error.Message, Stack: message.Error.Stack},
		Status:              string(message.Status),
		ReprocessCount:      message.ReprocessCount,
		LastReprocessedBy:   message.LastReprocessedBy,
		LastReprocessReason: message.LastReprocessReason,
		LastReprocessError:  message.LastReprocessError,
		LastReprocessedAt:   message.LastReprocessedAt,
		StoredAt:            message.StoredAt,
		UpdatedAt:           message.UpdatedAt,
	}
}

func (d messageDocument) toEntity() entities.DlqMessage {
	message := entities.DlqMessage{
		ID:                d.ID,
		SourceKey:         d.SourceKey,
		DlqChannel:        d.DlqChannel,
		OriginalChannel:   d.OriginalChannel,
		OriginalPartition: d.OriginalPartition,
		OriginalOffset:    d.OriginalOffset,
		OriginalTimestamp: d.OriginalTimestamp.UTC(),
		MessageKey:        d.MessageKey,
		Payload:           d.Payload,
		Headers:           d.Headers,
		Event: entities.EventMetadata{
			EventID:        d.Event.EventID,
			EventType:      d.Event.EventType,
			Producer:       d.Event.Producer,
			TraceID:        d.Event.TraceID,
			IdempotencyKey: d.Event.IdempotencyKey,
		},
		Error:               entities.ErrorInfo{Type: d.Error.Type, Message: d.Error.Message, Stack: d.Error.Stack},
		Status:              entities.DlqStatus(d.Status),
		ReprocessCount:      d.ReprocessCount,
		LastReprocessedBy:   d.LastReprocessedBy,
		LastReprocessReason: d.LastReprocessReason,
		LastReprocessError:  d.LastReprocessError,
		StoredAt:            d.StoredAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
	if d.LastReprocessedAt != nil {
		at := d.LastReprocessedAt.UTC()
		message.LastReprocessedAt = &at
	}
	return message
}
