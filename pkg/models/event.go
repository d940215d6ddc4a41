// Package models defines the wire and storage types shared by the event
// store and the producer SDK: events, correlation links, process
// definitions, account summaries, and the request/response envelopes of
// the /v1 API.
package models

import "time"

// MaxShortID is the max length allowed for correlation_id and trace_id.
const MaxShortID = 200

// MaxSpanID is the max length allowed for span_id and parent_span_id.
const MaxSpanID = 64

// MaxAccountID is the max length allowed for account_id.
const MaxAccountID = 64

// MaxLabel is the max length allowed for application_id/originating_system/target_system.
const MaxLabel = 200

// MaxShortText bounds result and error_message per the wire contract.
const MaxShortText = 2048

// Event is the immutable record of one observable occurrence in a process.
// It is never mutated after insert except for the soft-delete flag.
type Event struct {
	ExecutionID  string `json:"execution_id"`
	CorrelationID string `json:"correlation_id"`
	TraceID      string `json:"trace_id"`

	SpanID       string   `json:"span_id"`
	ParentSpanID *string  `json:"parent_span_id,omitempty"`
	SpanLinks    []string `json:"span_links,omitempty"`

	AccountID *string `json:"account_id,omitempty"`
	BatchID   *string `json:"batch_id,omitempty"`

	ApplicationID     string `json:"application_id"`
	OriginatingSystem string `json:"originating_system"`
	TargetSystem      string `json:"target_system"`

	ProcessName  string  `json:"process_name"`
	StepSequence int     `json:"step_sequence"`
	StepName     *string `json:"step_name,omitempty"`

	EventType   EventType   `json:"event_type"`
	EventStatus EventStatus `json:"event_status"`

	Identifiers map[string]string `json:"identifiers"`
	Metadata    map[string]any    `json:"metadata,omitempty"`

	Summary string  `json:"summary"`
	Result  *string `json:"result,omitempty"`

	EventTimestamp time.Time `json:"event_timestamp"`

	Endpoint         *string     `json:"endpoint,omitempty"`
	HTTPMethod       *HTTPMethod `json:"http_method,omitempty"`
	HTTPStatusCode   *int        `json:"http_status_code,omitempty"`
	RequestPayload   *string     `json:"request_payload,omitempty"`
	ResponsePayload  *string     `json:"response_payload,omitempty"`

	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	ExecutionTimeMs *int64 `json:"execution_time_ms,omitempty"`

	IdempotencyKey *string `json:"idempotency_key,omitempty"`

	IsDeleted bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// CorrelationLink is the late-binding relation from a correlation_id to an
// account_id. There is one row per correlation_id.
type CorrelationLink struct {
	CorrelationID string  `json:"correlation_id"`
	AccountID     string  `json:"account_id"`
	ApplicationID *string `json:"application_id,omitempty"`
	CustomerID    *string `json:"customer_id,omitempty"`
	CardLast4     *string `json:"card_last4,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProcessDefinition is the static catalog row describing a known process_name.
type ProcessDefinition struct {
	ProcessName       string  `json:"process_name"`
	OwningTeam        string  `json:"owning_team"`
	ExpectedStepCount *int    `json:"expected_step_count,omitempty"`
	SLASeconds        *int    `json:"sla_seconds,omitempty"`
	Description       *string `json:"description,omitempty"`
}

// AccountTimelineSummary is a per-account materialized aggregate. It is
// read-only from the store's perspective; population is out of scope
// (spec.md §9 Open Questions).
type AccountTimelineSummary struct {
	AccountID          string    `json:"account_id"`
	FirstEventAt       time.Time `json:"first_event_at"`
	LastEventAt        time.Time `json:"last_event_at"`
	TotalEvents        int64     `json:"total_events"`
	SystemsTouched     []string  `json:"systems_touched"`
	RecentCorrelations []string  `json:"recent_correlation_ids"`
}

// Batch groups many process instances submitted together, e.g. one CSV
// upload. Supplemented entity (SPEC_FULL §3): made a first-class row so
// batch metadata survives independently of the events that reference it.
type Batch struct {
	BatchID   string    `json:"batch_id"`
	Label     *string   `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
