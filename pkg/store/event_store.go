package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/processlog/eventlog/pkg/models"
	"github.com/processlog/eventlog/pkg/obs"
)

// EventStore persists events durably with idempotency deduplication and
// serves the indexed read paths of spec.md §4.3.
type EventStore struct {
	db      *sql.DB
	metrics *obs.Metrics
}

// NewEventStore wraps a pooled *sql.DB. metrics is optional: pass nil to
// skip instrumentation (as the store-layer tests do).
func NewEventStore(db *sql.DB, metrics *obs.Metrics) *EventStore {
	return &EventStore{db: db, metrics: metrics}
}

// observeQuery records a database_query_duration_seconds observation for
// operation, if a Metrics instance was supplied.
func (s *EventStore) observeQuery(operation string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *EventStore) incIngested(eventType, eventStatus string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsIngestedTotal.WithLabelValues(eventType, eventStatus).Inc()
}

func (s *EventStore) incRejected(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// InsertSingle inserts one event, or — if idempotency_key is present and
// already stored — returns the existing execution_id with no new row
// (spec.md §3.1 invariant iii, §4.3).
func (s *EventStore) InsertSingle(ctx context.Context, in *models.EventInput) (string, error) {
	defer s.observeQuery("insert_single", time.Now())

	if in.IdempotencyKey != nil {
		if existing, ok, err := s.lookupByIdempotencyKey(ctx, s.db, *in.IdempotencyKey); err != nil {
			return "", err
		} else if ok {
			s.incIngested(string(in.EventType), string(in.EventStatus))
			return existing, nil
		}
	}

	executionID := uuid.NewString()
	if err := s.insertRow(ctx, s.db, executionID, in); err != nil {
		if _, ok := isUniqueViolation(err); ok {
			// Idempotency key raced with a concurrent insert: re-probe and
			// surface the winner instead of erroring, per spec.md §4.3 step 5.
			if in.IdempotencyKey != nil {
				if existing, ok, lookupErr := s.lookupByIdempotencyKey(ctx, s.db, *in.IdempotencyKey); lookupErr == nil && ok {
					s.incIngested(string(in.EventType), string(in.EventStatus))
					return existing, nil
				}
			}
			s.incRejected("conflict")
			return "", ErrConflict
		}
		s.incRejected("store_error")
		return "", fmt.Errorf("insert event: %w", err)
	}
	s.incIngested(string(in.EventType), string(in.EventStatus))
	return executionID, nil
}

// BatchResult is the outcome of InsertBatch: execution ids in input order
// (echoing existing ids for idempotency hits) plus per-row errors.
type BatchResult struct {
	ExecutionIDs   []string
	Errors         []models.ItemError
	CorrelationIDs []string
}

// InsertBatch runs the whole batch inside one transaction (spec.md §4.3):
//  1. probe all present idempotency keys in a single indexed lookup
//  2. partition into known (echo existing id) and new (needs a row)
//  3. bulk-insert the new partition; on bulk failure fall back to per-row
//     inserts under SAVEPOINTs so one bad row doesn't reject the batch
//  4. return execution_ids in input order plus a per-row errors list
func (s *EventStore) InsertBatch(ctx context.Context, events []*models.EventInput) (*BatchResult, error) {
	defer s.observeQuery("insert_batch", time.Now())

	result := &BatchResult{ExecutionIDs: make([]string, len(events))}
	if len(events) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	keys := make([]string, 0, len(events))
	for _, e := range events {
		if e.IdempotencyKey != nil {
			keys = append(keys, *e.IdempotencyKey)
		}
	}
	existingByKey, err := s.lookupManyByIdempotencyKey(ctx, tx, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency keys: %w", err)
	}

	type pending struct {
		index       int
		executionID string
		input       *models.EventInput
	}
	var newRows []pending
	correlationSeen := make(map[string]struct{})

	for i, e := range events {
		correlationSeen[e.CorrelationID] = struct{}{}
		if e.IdempotencyKey != nil {
			if existing, ok := existingByKey[*e.IdempotencyKey]; ok {
				result.ExecutionIDs[i] = existing
				continue
			}
		}
		executionID := uuid.NewString()
		result.ExecutionIDs[i] = executionID
		newRows = append(newRows, pending{index: i, executionID: executionID, input: e})
	}

	if len(newRows) > 0 {
		rowsForBulk := make([]*models.EventInput, len(newRows))
		executionIDs := make([]string, len(newRows))
		for j, p := range newRows {
			rowsForBulk[j] = p.input
			executionIDs[j] = p.executionID
		}

		if err := s.bulkInsert(ctx, tx, executionIDs, rowsForBulk); err != nil {
			slog.Warn("bulk insert failed, falling back to per-row inserts",
				"batch_size", len(newRows), "error", err)

			for _, p := range newRows {
				if rowErr := s.insertRowInSavepoint(ctx, tx, p.executionID, p.input); rowErr != nil {
					if _, ok := isUniqueViolation(rowErr); ok && p.input.IdempotencyKey != nil {
						if existing, ok, lookupErr := s.lookupByIdempotencyKey(ctx, tx, *p.input.IdempotencyKey); lookupErr == nil && ok {
							result.ExecutionIDs[p.index] = existing
							continue
						}
					}
					result.ExecutionIDs[p.index] = ""
					result.Errors = append(result.Errors, models.ItemError{Index: p.index, Error: rowErr.Error()})
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch transaction: %w", err)
	}
	committed = true

	for id := range correlationSeen {
		result.CorrelationIDs = append(result.CorrelationIDs, id)
	}

	failedIdx := make(map[int]struct{}, len(result.Errors))
	for _, e := range result.Errors {
		failedIdx[e.Index] = struct{}{}
	}
	for i, in := range events {
		if _, failed := failedIdx[i]; failed {
			s.incRejected("store_error")
			continue
		}
		s.incIngested(string(in.EventType), string(in.EventStatus))
	}

	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *EventStore) lookupByIdempotencyKey(ctx context.Context, q queryer, key string) (string, bool, error) {
	var executionID string
	err := q.QueryRowContext(ctx,
		`SELECT execution_id FROM events WHERE idempotency_key = $1 AND NOT is_deleted`, key,
	).Scan(&executionID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return executionID, true, nil
}

func (s *EventStore) lookupManyByIdempotencyKey(ctx context.Context, q queryer, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT idempotency_key, execution_id FROM events WHERE idempotency_key = ANY($1) AND NOT is_deleted`,
		keys,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, executionID string
		if err := rows.Scan(&key, &executionID); err != nil {
			return nil, err
		}
		out[key] = executionID
	}
	return out, rows.Err()
}

const insertColumns = `
	execution_id, correlation_id, trace_id, span_id, parent_span_id, span_links,
	account_id, batch_id, application_id, originating_system, target_system,
	process_name, step_sequence, step_name, event_type, event_status,
	identifiers, metadata, summary, result, event_timestamp,
	endpoint, http_method, http_status_code, request_payload, response_payload,
	error_code, error_message, execution_time_ms, idempotency_key`

func (s *EventStore) insertRow(ctx context.Context, e execer, executionID string, in *models.EventInput) error {
	return insertOne(ctx, e, executionID, in)
}

func (s *EventStore) insertRowInSavepoint(ctx context.Context, tx *sql.Tx, executionID string, in *models.EventInput) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT row_insert`); err != nil {
		return err
	}
	err := insertOne(ctx, tx, executionID, in)
	if err != nil {
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT row_insert`)
		return err
	}
	_, _ = tx.ExecContext(ctx, `RELEASE SAVEPOINT row_insert`)
	return nil
}

func insertOne(ctx context.Context, e execer, executionID string, in *models.EventInput) error {
	identifiers, err := json.Marshal(in.Identifiers)
	if err != nil {
		return fmt.Errorf("marshal identifiers: %w", err)
	}
	var metadata any
	if in.Metadata != nil {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = b
	}
	var spanLinks any
	if len(in.SpanLinks) > 0 {
		b, err := json.Marshal(in.SpanLinks)
		if err != nil {
			return fmt.Errorf("marshal span_links: %w", err)
		}
		spanLinks = b
	}

	spanID := in.SpanID
	if spanID == "" {
		spanID = uuid.NewString()[:16]
	}

	_, err = e.ExecContext(ctx, `INSERT INTO events (`+insertColumns+`) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
		$22,$23,$24,$25,$26,$27,$28,$29,$30
	)`,
		executionID, in.CorrelationID, in.TraceID, spanID, in.ParentSpanID, spanLinks,
		in.AccountID, in.BatchID, in.ApplicationID, in.OriginatingSystem, in.TargetSystem,
		in.ProcessName, in.StepSequence, in.StepName, string(in.EventType), string(in.EventStatus),
		identifiers, metadata, in.Summary, in.Result, in.EventTimestamp,
		in.Endpoint, httpMethodString(in.HTTPMethod), in.HTTPStatusCode, in.RequestPayload, in.ResponsePayload,
		in.ErrorCode, in.ErrorMessage, in.ExecutionTimeMs, in.IdempotencyKey,
	)
	return err
}

func httpMethodString(m *models.HTTPMethod) *string {
	if m == nil {
		return nil
	}
	v := string(*m)
	return &v
}

func (s *EventStore) bulkInsert(ctx context.Context, tx *sql.Tx, executionIDs []string, rows []*models.EventInput) error {
	const cols = 30
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*cols)

	for i, in := range rows {
		identifiers, err := json.Marshal(in.Identifiers)
		if err != nil {
			return fmt.Errorf("marshal identifiers: %w", err)
		}
		var metadata any
		if in.Metadata != nil {
			b, err := json.Marshal(in.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = b
		}
		var spanLinks any
		if len(in.SpanLinks) > 0 {
			b, err := json.Marshal(in.SpanLinks)
			if err != nil {
				return fmt.Errorf("marshal span_links: %w", err)
			}
			spanLinks = b
		}
		spanID := in.SpanID
		if spanID == "" {
			spanID = uuid.NewString()[:16]
		}

		base := i * cols
		placeholders := make([]string, cols)
		for c := 0; c < cols; c++ {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+joinComma(placeholders)+")")
		args = append(args,
			executionIDs[i], in.CorrelationID, in.TraceID, spanID, in.ParentSpanID, spanLinks,
			in.AccountID, in.BatchID, in.ApplicationID, in.OriginatingSystem, in.TargetSystem,
			in.ProcessName, in.StepSequence, in.StepName, string(in.EventType), string(in.EventStatus),
			identifiers, metadata, in.Summary, in.Result, in.EventTimestamp,
			in.Endpoint, httpMethodString(in.HTTPMethod), in.HTTPStatusCode, in.RequestPayload, in.ResponsePayload,
			in.ErrorCode, in.ErrorMessage, in.ExecutionTimeMs, in.IdempotencyKey,
		)
	}

	query := `INSERT INTO events (` + insertColumns + `) VALUES ` + joinComma(values)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}
