package models

import "time"

// EventInput is the producer-supplied shape of one event, before the
// server assigns execution_id and created_at.
type EventInput struct {
	CorrelationID string   `json:"correlation_id" validate:"required,max=200"`
	TraceID       string   `json:"trace_id" validate:"required,max=200"`
	SpanID        string   `json:"span_id" validate:"omitempty,max=64"`
	ParentSpanID  *string  `json:"parent_span_id,omitempty" validate:"omitempty,max=64"`
	SpanLinks     []string `json:"span_links,omitempty"`

	AccountID *string `json:"account_id,omitempty" validate:"omitempty,max=64"`
	BatchID   *string `json:"batch_id,omitempty"`

	ApplicationID     string `json:"application_id" validate:"required,max=200"`
	OriginatingSystem string `json:"originating_system" validate:"required,max=200"`
	TargetSystem      string `json:"target_system" validate:"required,max=200"`

	ProcessName  string  `json:"process_name" validate:"required"`
	StepSequence int     `json:"step_sequence"`
	StepName     *string `json:"step_name,omitempty"`

	EventType   EventType   `json:"event_type" validate:"required"`
	EventStatus EventStatus `json:"event_status" validate:"required"`

	Identifiers map[string]string `json:"identifiers"`
	Metadata    map[string]any    `json:"metadata,omitempty"`

	Summary string  `json:"summary" validate:"required"`
	Result  *string `json:"result,omitempty" validate:"omitempty,max=2048"`

	EventTimestamp time.Time `json:"event_timestamp" validate:"required"`

	Endpoint        *string     `json:"endpoint,omitempty"`
	HTTPMethod      *HTTPMethod `json:"http_method,omitempty"`
	HTTPStatusCode  *int        `json:"http_status_code,omitempty"`
	RequestPayload  *string     `json:"request_payload,omitempty"`
	ResponsePayload *string     `json:"response_payload,omitempty"`

	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty" validate:"omitempty,max=2048"`

	ExecutionTimeMs *int64 `json:"execution_time_ms,omitempty" validate:"omitempty,min=0"`

	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

// InsertRequest is the body of POST /v1/events: either a single event or an array.
type InsertRequest struct {
	Events []EventInput
}

// BatchInsertRequest is the body of POST /v1/events/batch.
type BatchInsertRequest struct {
	BatchID string       `json:"batch_id" validate:"required"`
	Label   *string      `json:"label,omitempty"`
	Events  []EventInput `json:"events" validate:"required,dive"`
}

// CreateCorrelationLinkRequest is the body of POST /v1/correlation-links.
type CreateCorrelationLinkRequest struct {
	CorrelationID string  `json:"correlation_id" validate:"required,max=200"`
	AccountID     string  `json:"account_id" validate:"required,max=64"`
	ApplicationID *string `json:"application_id,omitempty"`
	CustomerID    *string `json:"customer_id,omitempty"`
	CardLast4     *string `json:"card_last4,omitempty"`
}

// ItemError reports one failed row inside an otherwise-successful batch.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// InsertResponse is returned by POST /v1/events; POST /v1/events/batch
// returns BatchInsertResponse.
type InsertResponse struct {
	ExecutionIDs []string    `json:"execution_ids"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// BatchInsertResponse extends InsertResponse with batch-level context.
type BatchInsertResponse struct {
	BatchID        string      `json:"batch_id"`
	ExecutionIDs   []string    `json:"execution_ids"`
	Errors         []ItemError `json:"errors,omitempty"`
	TotalInserted  int         `json:"total_inserted"`
	CorrelationIDs []string    `json:"correlation_ids"`
}

// CorrelationQueryResponse is returned by GET /v1/events/correlation/{id}.
type CorrelationQueryResponse struct {
	Events    []*Event `json:"events"`
	AccountID *string  `json:"account_id,omitempty"`
	IsLinked  bool     `json:"is_linked"`
}

// TraceQueryResponse is returned by GET /v1/events/trace/{id}.
type TraceQueryResponse struct {
	Events           []*Event `json:"events"`
	SystemsInvolved  []string `json:"systems_involved"`
	TotalDurationMs  int64    `json:"total_duration_ms"`
}

// Page is the common pagination envelope shared by account/batch/search queries.
type Page struct {
	Events     []*Event `json:"events"`
	TotalCount int64    `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	HasMore    bool     `json:"has_more"`
}

// BatchStats carries the per-batch aggregate counters returned alongside a batch page.
type BatchStats struct {
	UniqueCorrelationIDs int64 `json:"unique_correlation_ids"`
	SuccessCount         int64 `json:"success_count"`
	FailureCount         int64 `json:"failure_count"`
	TotalCount           int64 `json:"total_count"`
}

// BatchPageResponse is returned by GET /v1/events/batch/{id}.
type BatchPageResponse struct {
	Page
	Stats BatchStats `json:"stats"`
}

// BatchSummaryResponse is returned by GET /v1/events/batch/{id}/summary.
type BatchSummaryResponse struct {
	TotalProcesses int64     `json:"total_processes"`
	Completed      int64     `json:"completed"`
	Failed         int64     `json:"failed"`
	InProgress     int64     `json:"in_progress"`
	CorrelationIDs []string  `json:"correlation_ids"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// AccountQueryFilter holds the optional filters accepted by the account query endpoint.
type AccountQueryFilter struct {
	StartDate     *time.Time
	EndDate       *time.Time
	ProcessName   *string
	EventStatus   *EventStatus
	IncludeLinked bool
}

// PageRequest is the normalized, already-clamped pagination input shared by
// every paginated query path.
type PageRequest struct {
	Page     int
	PageSize int
}

// DefaultPage and DefaultPageSize/MaxPageSize implement the defaults in spec.md §4.3.
const (
	DefaultPage     = 1
	DefaultPageSize = 200
	MaxPageSize     = 500
)

// NormalizePageRequest clamps page/page_size to the documented bounds.
func NormalizePageRequest(page, pageSize int) PageRequest {
	if page < 1 {
		page = DefaultPage
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return PageRequest{Page: page, PageSize: pageSize}
}
