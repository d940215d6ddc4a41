package models

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidationFailed is the sentinel matched by errors.Is to detect a
	// validation failure regardless of which fields failed.
	ErrValidationFailed = errors.New("validation failed")

	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError names one invalid field and why, for the 400 response body.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is a list of FieldError, returned verbatim to the caller
// as the body of a 400 response (spec.md §4.4).
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Error)
}

// Unwrap lets errors.Is(err, ErrValidationFailed) succeed.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func newFieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Error: msg}}}
}

// ValidateEventInput enforces struct tags plus the cross-field invariants
// from spec.md §3.1 (i), (ii), (iv). Invariant (iii) — idempotency
// short-circuit — and (vi) — immutability — are store-layer concerns.
// Invariant (v) is not checked: an ERROR/FAILURE event without error_code
// or error_message is accepted.
func ValidateEventInput(e *EventInput) error {
	if err := validatorInstance().Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, FieldError{Field: fe.Field(), Error: fe.Tag()})
			}
			return &ValidationError{Fields: fields}
		}
		return &ValidationError{Fields: []FieldError{{Field: "?", Error: err.Error()}}}
	}

	if !e.EventType.IsValid() {
		return newFieldError("event_type", "must be one of PROCESS_START, STEP, PROCESS_END, ERROR")
	}
	if !e.EventStatus.IsValid() {
		return newFieldError("event_status", "must be one of SUCCESS, FAILURE, IN_PROGRESS, SKIPPED")
	}
	if e.HTTPMethod != nil && !e.HTTPMethod.IsValid() {
		return newFieldError("http_method", "must be one of GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS")
	}
	if e.Identifiers == nil {
		return newFieldError("identifiers", "required (may be an empty object)")
	}

	switch e.EventType {
	case EventTypeProcessStart:
		if e.StepSequence != 0 {
			return newFieldError("step_sequence", "must be 0 for PROCESS_START")
		}
		if e.EventStatus != EventStatusSuccess && e.EventStatus != EventStatusInProgress {
			return newFieldError("event_status", "PROCESS_START requires SUCCESS or IN_PROGRESS")
		}
	case EventTypeProcessEnd:
		if e.EventStatus != EventStatusSuccess && e.EventStatus != EventStatusFailure {
			return newFieldError("event_status", "PROCESS_END requires SUCCESS or FAILURE")
		}
	}

	if e.ExecutionTimeMs != nil && *e.ExecutionTimeMs < 0 {
		return newFieldError("execution_time_ms", "must be non-negative")
	}

	return nil
}
