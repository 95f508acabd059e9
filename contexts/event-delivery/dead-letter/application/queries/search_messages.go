package queries

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	application "folio/contexts/event-delivery/dead-letter/application"
	"folio/contexts/event-delivery/dead-letter/domain/entities"
	domainerrors "folio/contexts/event-delivery/dead-letter/domain/errors"
	"folio/contexts/event-delivery/dead-letter/ports"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

type SearchMessagesQuery struct {
	Status          string
	OriginalChannel string
	Page            int
	Size            int
}

type SearchMessagesUseCase struct {
	Store  ports.MessageStore
	Logger *slog.Logger
}

// Execute searches by optional status and original channel. Pages are
// zero-based and ordered newest first.
func (u SearchMessagesUseCase) Execute(ctx context.Context, query SearchMessagesQuery) (ports.SearchPage, error) {
	logger := application.ResolveLogger(u.Logger)
	filter := ports.SearchFilter{
		OriginalChannel: strings.TrimSpace(query.OriginalChannel),
		Page:            query.Page,
		Size:            query.Size,
	}
	if status := strings.ToUpper(strings.TrimSpace(query.Status)); status != "" {
		filter.Status = entities.DlqStatus(status)
		if !filter.Status.Valid() {
			return ports.SearchPage{}, fmt.Errorf("%w: unknown status %q", domainerrors.ErrInvalidSearchFilter, query.Status)
		}
	}
	if filter.Page < 0 {
		return ports.SearchPage{}, fmt.Errorf("%w: page must be >= 0", domainerrors.ErrInvalidSearchFilter)
	}
	if filter.Size <= 0 {
		filter.Size = defaultPageSize
	}
	if filter.Size > maxPageSize {
		filter.Size = maxPageSize
	}
	if _, ok := filter.Offset(); !ok {
		return ports.SearchPage{}, fmt.Errorf("%w: page %d is out of range", domainerrors.ErrInvalidSearchFilter, filter.Page)
	}

	page, err := u.Store.Search(ctx, filter)
	if err != nil {
		logger.Error("dlq search failed",
			"event", "dlq_search_failed",
			"module", "event-delivery/dead-letter",
			"layer", "application",
			"error", err.Error(),
		)
		return ports.SearchPage{}, err
	}
	return page, nil
}

type GetMessageUseCase struct {
	Store  ports.MessageStore
	Logger *slog.Logger
}

func (u GetMessageUseCase) Execute(ctx context.Context, id string) (entities.DlqMessage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return entities.DlqMessage{}, domainerrors.ErrDlqMessageNotFound
	}
	return u.Store.FindByID(ctx, id)
}
