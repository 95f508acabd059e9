package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SearchMessagesRequest struct {
	Status          string
	OriginalChannel string
	Page            int
	Size            int
}

type ReprocessMessageRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type EventMetadataDTO struct {
	EventID        string `json:"event_id,omitempty"`
	EventType      string `json:"event_type,omitempty"`
	Producer       string `json:"producer,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ErrorInfoDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type DlqMessageDTO struct {
	ID                  string            `json:"id"`
	SourceKey           string            `json:"source_key"`
	DlqChannel          string            `json:"dlq_channel"`
	OriginalChannel     string            `json:"original_channel"`
	OriginalPartition   int               `json:"original_partition"`
	OriginalOffset      int64             `json:"original_offset"`
	OriginalTimestamp   string            `json:"original_timestamp"`
	MessageKey          string            `json:"message_key,omitempty"`
	Payload             string            `json:"payload"`
	Headers             map[string]string `json:"headers,omitempty"`
	Event               EventMetadataDTO  `json:"event"`
	Error               ErrorInfoDTO      `json:"error"`
	Status              string            `json:"status"`
	ReprocessCount      int               `json:"reprocess_count"`
	LastReprocessedBy   string            `json:"last_reprocessed_by,omitempty"`
	LastReprocessReason string            `json:"last_reprocess_reason,omitempty"`
	LastReprocessError  string            `json:"last_reprocess_error,omitempty"`
	LastReprocessedAt   string            `json:"last_reprocessed_at,omitempty"`
	StoredAt            string            `json:"stored_at"`
	UpdatedAt           string            `json:"updated_at"`
}

type DlqMessageResponse struct {
	Status string        `json:"status"`
	Data   DlqMessageDTO `json:"data"`
}

type SearchMessagesResponse struct {
	Status string          `json:"status"`
	Data   []DlqMessageDTO `json:"data"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
	Total  int64           `json:"total"`
}
