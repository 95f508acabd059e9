package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"folio/contexts/event-delivery/dead-letter/application/commands"
	"folio/contexts/event-delivery/dead-letter/application/queries"
	"folio/contexts/event-delivery/dead-letter/domain/entities"
	httptransport "folio/contexts/event-delivery/dead-letter/transport/http"
)

type Handler struct {
	Search    queries.SearchMessagesUseCase
	Get       queries.GetMessageUseCase
	Reprocess commands.ReprocessMessageUseCase
	Logger    *slog.Logger
}

func (h Handler) SearchMessagesHandler(
	ctx context.Context,
	req httptransport.SearchMessagesRequest,
) (httptransport.SearchMessagesResponse, error) {
	page, err := h.Search.Execute(ctx, queries.SearchMessagesQuery{
		Status:          req.Status,
		OriginalChannel: req.OriginalChannel,
		Page:            req.Page,
		Size:            req.Size,
	})
	if err != nil {
		return httptransport.SearchMessagesResponse{}, err
	}
	resp := httptransport.SearchMessagesResponse{
		Status: "success",
		Data:   make([]httptransport.DlqMessageDTO, 0, len(page.Items)),
		Page:   page.Page,
		Size:   page.Size,
		Total:  page.Total,
	}
	for _, item := range page.Items {
		resp.Data = append(resp.Data, toDTO(item))
	}
	return resp, nil
}

func (h Handler) GetMessageHandler(ctx context.Context, id string) (httptransport.DlqMessageResponse, error) {
	message, err := h.Get.Execute(ctx, id)
	if err != nil {
		return httptransport.DlqMessageResponse{}, err
	}
	return httptransport.DlqMessageResponse{Status: "success", Data: toDTO(message)}, nil
}

// ReprocessMessageHandler returns the stored outcome. A failed resubmission
// is reported through the FAILED status, not an error.
func (h Handler) ReprocessMessageHandler(
	ctx context.Context,
	id string,
	req httptransport.ReprocessMessageRequest,
) (httptransport.DlqMessageResponse, error) {
	message, err := h.Reprocess.Execute(ctx, commands.ReprocessMessageCommand{
		ID:     id,
		Actor:  req.Actor,
		Reason: req.Reason,
	})
	if err != nil {
		return httptransport.DlqMessageResponse{}, err
	}
	return httptransport.DlqMessageResponse{Status: "success", Data: toDTO(message)}, nil
}

func toDTO(message entities.DlqMessage) httptransport.DlqMessageDTO {
	dto := httptransport.DlqMessageDTO{
		ID:                message.ID,
		SourceKey:         message.SourceKey,
		DlqChannel:        message.DlqChannel,
		OriginalChannel:   message.OriginalChannel,
		OriginalPartition: message.OriginalPartition,
		OriginalOffset:    message.OriginalOffset,
		OriginalTimestamp: message.OriginalTimestamp.UTC().Format(time.RFC3339Nano),
		MessageKey:        message.MessageKey,
		Payload:           string(message.Payload),
		Headers:           message.Headers,
		Event: httptransport.EventMetadataDTO{
			EventID:        message.Event.EventID,
			EventType:      message.Event.EventType,
			Producer:       message.Event.Producer,
			TraceID:        message.Event.TraceID,
			IdempotencyKey: message.Event.IdempotencyKey,
		},
		Error: httptransport.ErrorInfoDTO{
			Type:    message.Error.Type,
			Message: message.Error.Message,
			Stack:   message.Error.Stack,
		},
		Status:              string(message.Status),
		ReprocessCount:      message.ReprocessCount,
		LastReprocessedBy:   message.LastReprocessedBy,
		LastReprocessReason: message.LastReprocessReason,
		LastReprocessError:  message.LastReprocessError,
		StoredAt:            message.StoredAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:           message.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if message.LastReprocessedAt != nil {
		dto.LastReprocessedAt = message.LastReprocessedAt.UTC().Format(time.RFC3339Nano)
	}
	return dto
}
