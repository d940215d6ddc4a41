package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/processlog/eventlog/pkg/models"
)

const selectColumns = `
	execution_id, correlation_id, trace_id, span_id, parent_span_id, span_links,
	account_id, batch_id, application_id, originating_system, target_system,
	process_name, step_sequence, step_name, event_type, event_status,
	identifiers, metadata, summary, result, event_timestamp,
	endpoint, http_method, http_status_code, request_payload, response_payload,
	error_code, error_message, execution_time_ms, idempotency_key, created_at`

func scanEvent(rows *sql.Rows) (*models.Event, error) {
	var e models.Event
	var spanLinks, identifiers, metadata []byte
	var httpMethod *string

	err := rows.Scan(
		&e.ExecutionID, &e.CorrelationID, &e.TraceID, &e.SpanID, &e.ParentSpanID, &spanLinks,
		&e.AccountID, &e.BatchID, &e.ApplicationID, &e.OriginatingSystem, &e.TargetSystem,
		&e.ProcessName, &e.StepSequence, &e.StepName, &e.EventType, &e.EventStatus,
		&identifiers, &metadata, &e.Summary, &e.Result, &e.EventTimestamp,
		&e.Endpoint, &httpMethod, &e.HTTPStatusCode, &e.RequestPayload, &e.ResponsePayload,
		&e.ErrorCode, &e.ErrorMessage, &e.ExecutionTimeMs, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if httpMethod != nil {
		m := models.HTTPMethod(*httpMethod)
		e.HTTPMethod = &m
	}
	if len(spanLinks) > 0 {
		if err := json.Unmarshal(spanLinks, &e.SpanLinks); err != nil {
			return nil, fmt.Errorf("unmarshal span_links: %w", err)
		}
	}
	if len(identifiers) > 0 {
		if err := json.Unmarshal(identifiers, &e.Identifiers); err != nil {
			return nil, fmt.Errorf("unmarshal identifiers: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

// GetByCorrelation returns every event sharing correlation_id, ordered by
// (step_sequence, event_timestamp), plus the linked account_id if one has
// been recorded via CreateCorrelationLink (spec.md §4.3).
func (s *EventStore) GetByCorrelation(ctx context.Context, correlationID string) (*models.CorrelationQueryResponse, error) {
	defer s.observeQuery("get_by_correlation", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events
		WHERE correlation_id = $1 AND NOT is_deleted
		ORDER BY step_sequence, event_timestamp`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query by correlation: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	resp := &models.CorrelationQueryResponse{Events: events}
	var accountID string
	linkErr := s.db.QueryRowContext(ctx,
		`SELECT account_id FROM correlation_links WHERE correlation_id = $1`, correlationID,
	).Scan(&accountID)
	if linkErr == nil {
		resp.AccountID = &accountID
		resp.IsLinked = true
	} else if linkErr != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup correlation link: %w", linkErr)
	}

	return resp, nil
}

// GetByTrace returns every event sharing trace_id across every system it
// touched, plus the systems_involved set and total span duration.
func (s *EventStore) GetByTrace(ctx context.Context, traceID string) (*models.TraceQueryResponse, error) {
	defer s.observeQuery("get_by_trace", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events
		WHERE trace_id = $1 AND NOT is_deleted
		ORDER BY event_timestamp`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query by trace: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	resp := &models.TraceQueryResponse{Events: events}
	if len(events) == 0 {
		return resp, nil
	}

	systems := make(map[string]struct{})
	earliest, latest := events[0].EventTimestamp, events[0].EventTimestamp
	for _, e := range events {
		systems[e.TargetSystem] = struct{}{}
		if e.EventTimestamp.Before(earliest) {
			earliest = e.EventTimestamp
		}
		if e.EventTimestamp.After(latest) {
			latest = e.EventTimestamp
		}
	}
	for sys := range systems {
		resp.SystemsInvolved = append(resp.SystemsInvolved, sys)
	}
	resp.TotalDurationMs = latest.Sub(earliest).Milliseconds()

	return resp, nil
}

// GetByAccount returns a paginated, filterable timeline for one account_id,
// optionally widened to correlation_ids linked to the account via
// correlation_links when filter.IncludeLinked is set (spec.md §4.3).
func (s *EventStore) GetByAccount(ctx context.Context, accountID string, filter models.AccountQueryFilter, page models.PageRequest) (*models.Page, error) {
	defer s.observeQuery("get_by_account", time.Now())

	where := []string{"NOT is_deleted"}
	args := []any{}
	argN := 0
	next := func(v any) string {
		argN++
		args = append(args, v)
		return fmt.Sprintf("$%d", argN)
	}

	if filter.IncludeLinked {
		where = append(where, fmt.Sprintf(
			"(account_id = %s OR correlation_id IN (SELECT correlation_id FROM correlation_links WHERE account_id = %s))",
			next(accountID), next(accountID)))
	} else {
		where = append(where, fmt.Sprintf("account_id = %s", next(accountID)))
	}
	if filter.StartDate != nil {
		where = append(where, fmt.Sprintf("event_timestamp >= %s", next(*filter.StartDate)))
	}
	if filter.EndDate != nil {
		where = append(where, fmt.Sprintf("event_timestamp <= %s", next(*filter.EndDate)))
	}
	if filter.ProcessName != nil {
		where = append(where, fmt.Sprintf("process_name = %s", next(*filter.ProcessName)))
	}
	if filter.EventStatus != nil {
		where = append(where, fmt.Sprintf("event_status = %s", next(string(*filter.EventStatus))))
	}

	whereClause := joinAnd(where)
	limitArg := next(page.PageSize)
	offsetArg := next((page.Page - 1) * page.PageSize)

	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) OVER() AS total_count FROM events
		WHERE %s
		ORDER BY event_timestamp DESC
		LIMIT %s OFFSET %s`,
		selectColumns, whereClause, limitArg, offsetArg,
	)

	return s.runPagedQuery(ctx, query, args, page)
}

// GetByBatch returns a paginated page of events for one batch_id, plus
// per-batch aggregate stats.
func (s *EventStore) GetByBatch(ctx context.Context, batchID string, page models.PageRequest) (*models.BatchPageResponse, error) {
	defer s.observeQuery("get_by_batch", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+`, COUNT(*) OVER() AS total_count FROM events
		WHERE batch_id = $1 AND NOT is_deleted
		ORDER BY event_timestamp
		LIMIT $2 OFFSET $3`,
		batchID, page.PageSize, (page.Page-1)*page.PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query by batch: %w", err)
	}
	pageResult, err := scanPagedEvents(rows, page)
	if err != nil {
		return nil, err
	}

	stats, err := s.batchStats(ctx, batchID)
	if err != nil {
		return nil, err
	}

	return &models.BatchPageResponse{Page: *pageResult, Stats: *stats}, nil
}

func (s *EventStore) batchStats(ctx context.Context, batchID string) (*models.BatchStats, error) {
	var stats models.BatchStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(DISTINCT correlation_id),
			COUNT(*) FILTER (WHERE event_status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE event_status = 'FAILURE'),
			COUNT(*)
		FROM events WHERE batch_id = $1 AND NOT is_deleted`,
		batchID,
	).Scan(&stats.UniqueCorrelationIDs, &stats.SuccessCount, &stats.FailureCount, &stats.TotalCount)
	if err != nil {
		return nil, fmt.Errorf("batch stats: %w", err)
	}
	return &stats, nil
}

// GetBatchSummary reports per-correlation process status rollups for one
// batch: how many correlations completed, failed, or are still in progress.
func (s *EventStore) GetBatchSummary(ctx context.Context, batchID string) (*models.BatchSummaryResponse, error) {
	defer s.observeQuery("get_batch_summary", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id,
			BOOL_OR(event_type = 'PROCESS_END' AND event_status = 'SUCCESS') AS completed,
			BOOL_OR(event_type = 'ERROR' OR event_status = 'FAILURE') AS failed,
			MIN(event_timestamp) AS started,
			MAX(event_timestamp) AS updated
		FROM events
		WHERE batch_id = $1 AND NOT is_deleted
		GROUP BY correlation_id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("batch summary: %w", err)
	}
	defer rows.Close()

	resp := &models.BatchSummaryResponse{}
	first := true
	for rows.Next() {
		var correlationID string
		var completed, failed bool
		var started, updated time.Time
		if err := rows.Scan(&correlationID, &completed, &failed, &started, &updated); err != nil {
			return nil, err
		}
		resp.TotalProcesses++
		resp.CorrelationIDs = append(resp.CorrelationIDs, correlationID)
		switch {
		case failed:
			resp.Failed++
		case completed:
			resp.Completed++
		default:
			resp.InProgress++
		}
		if first || started.Before(resp.StartTime) {
			resp.StartTime = started
		}
		if first || updated.After(resp.EndTime) {
			resp.EndTime = updated
		}
		first = false
	}
	return resp, rows.Err()
}

func (s *EventStore) runPagedQuery(ctx context.Context, query string, args []any, page models.PageRequest) (*models.Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("paged query: %w", err)
	}
	return scanPagedEvents(rows, page)
}

func scanPagedEvents(rows *sql.Rows, page models.PageRequest) (*models.Page, error) {
	defer rows.Close()

	var events []*models.Event
	var totalCount int64
	for rows.Next() {
		var e models.Event
		var spanLinks, identifiers, metadata []byte
		var httpMethod *string

		if err := rows.Scan(
			&e.ExecutionID, &e.CorrelationID, &e.TraceID, &e.SpanID, &e.ParentSpanID, &spanLinks,
			&e.AccountID, &e.BatchID, &e.ApplicationID, &e.OriginatingSystem, &e.TargetSystem,
			&e.ProcessName, &e.StepSequence, &e.StepName, &e.EventType, &e.EventStatus,
			&identifiers, &metadata, &e.Summary, &e.Result, &e.EventTimestamp,
			&e.Endpoint, &httpMethod, &e.HTTPStatusCode, &e.RequestPayload, &e.ResponsePayload,
			&e.ErrorCode, &e.ErrorMessage, &e.ExecutionTimeMs, &e.IdempotencyKey, &e.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, err
		}
		if httpMethod != nil {
			m := models.HTTPMethod(*httpMethod)
			e.HTTPMethod = &m
		}
		if len(spanLinks) > 0 {
			if err := json.Unmarshal(spanLinks, &e.SpanLinks); err != nil {
				return nil, fmt.Errorf("unmarshal span_links: %w", err)
			}
		}
		if len(identifiers) > 0 {
			if err := json.Unmarshal(identifiers, &e.Identifiers); err != nil {
				return nil, fmt.Errorf("unmarshal identifiers: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.Page{
		Events:     events,
		TotalCount: totalCount,
		Page:       page.Page,
		PageSize:   page.PageSize,
		HasMore:    int64(page.Page*page.PageSize) < totalCount,
	}, nil
}

func collectEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
