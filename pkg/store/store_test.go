package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/processlog/eventlog/pkg/models"
	"github.com/processlog/eventlog/test/util"
)

func newTestStore(t *testing.T) (*EventStore, *sql.DB) {
	db := util.SetupTestDatabase(t)
	return NewEventStore(db, nil), db
}

func sampleEvent(correlationID string, seq int) *models.EventInput {
	key := correlationID + "-key"
	return &models.EventInput{
		CorrelationID:     correlationID,
		TraceID:           "trace-" + correlationID,
		ApplicationID:     "app-1",
		OriginatingSystem: "sys-a",
		TargetSystem:      "sys-b",
		ProcessName:       "onboarding",
		StepSequence:      seq,
		EventType:         models.EventTypeStep,
		EventStatus:       models.EventStatusSuccess,
		Identifiers:       map[string]string{"order_id": "o-1"},
		Summary:           "step completed",
		EventTimestamp:    time.Now().UTC(),
		IdempotencyKey:    &key,
	}
}

func TestEventStore_InsertSingle_IdempotencyReplay(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := sampleEvent("corr-idem", 0)
	id1, err := store.InsertSingle(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := store.InsertSingle(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "replaying the same idempotency key must return the original execution_id")
}

func TestEventStore_InsertBatch_PartialFailureIsolated(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	good := sampleEvent("corr-batch", 0)
	bad := sampleEvent("corr-batch", 1)
	badMethod := models.HTTPMethod("TRACE")
	bad.HTTPMethod = &badMethod // violates the http_method CHECK constraint

	result, err := store.InsertBatch(ctx, []*models.EventInput{good, bad})
	require.NoError(t, err)
	require.Len(t, result.ExecutionIDs, 2)
	assert.NotEmpty(t, result.ExecutionIDs[0])
	assert.Empty(t, result.ExecutionIDs[1])
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE correlation_id = 'corr-batch'`).Scan(&count))
	assert.Equal(t, 1, count, "the good row must still be committed despite the bad row failing")
}

func TestEventStore_GetByCorrelation_OrderedBySequence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	e2 := sampleEvent("corr-order", 2)
	e2.IdempotencyKey = nil
	e1 := sampleEvent("corr-order", 1)
	e1.IdempotencyKey = nil

	_, err := store.InsertBatch(ctx, []*models.EventInput{e2, e1})
	require.NoError(t, err)

	resp, err := store.GetByCorrelation(ctx, "corr-order")
	require.NoError(t, err)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, 1, resp.Events[0].StepSequence)
	assert.Equal(t, 2, resp.Events[1].StepSequence)
	assert.False(t, resp.IsLinked)
}

func TestEventStore_CorrelationLink_ThenAccountQuery(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	e := sampleEvent("corr-linked", 0)
	e.IdempotencyKey = nil
	_, err := store.InsertSingle(ctx, e)
	require.NoError(t, err)

	_, err = store.CreateCorrelationLink(ctx, &models.CreateCorrelationLinkRequest{
		CorrelationID: "corr-linked",
		AccountID:     "acct-1",
	})
	require.NoError(t, err)

	resp, err := store.GetByCorrelation(ctx, "corr-linked")
	require.NoError(t, err)
	require.NotNil(t, resp.AccountID)
	assert.Equal(t, "acct-1", *resp.AccountID)
	assert.True(t, resp.IsLinked)

	page, err := store.GetByAccount(ctx, "acct-1", models.AccountQueryFilter{IncludeLinked: true}, models.NormalizePageRequest(0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalCount)
}

func TestEventStore_GetByTrace_AggregatesSystemsAndDuration(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	start := sampleEvent("corr-trace-a", 0)
	start.TraceID = "trace-shared"
	start.IdempotencyKey = nil
	start.EventTimestamp = time.Now().UTC().Add(-2 * time.Minute)

	end := sampleEvent("corr-trace-b", 0)
	end.TraceID = "trace-shared"
	end.IdempotencyKey = nil
	end.TargetSystem = "sys-c"
	end.EventTimestamp = time.Now().UTC()

	_, err := store.InsertBatch(ctx, []*models.EventInput{start, end})
	require.NoError(t, err)

	resp, err := store.GetByTrace(ctx, "trace-shared")
	require.NoError(t, err)
	assert.Len(t, resp.Events, 2)
	assert.GreaterOrEqual(t, resp.TotalDurationMs, int64(60_000))
	assert.Contains(t, resp.SystemsInvolved, "sys-c")
}

func TestEventStore_Search_LikeFallback(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	e := sampleEvent("corr-search", 0)
	e.IdempotencyKey = nil
	e.Summary = "payment gateway timeout"
	_, err := store.InsertSingle(ctx, e)
	require.NoError(t, err)

	page, err := store.Search(ctx, "gateway timeout", false, models.NormalizePageRequest(0, 0))
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "corr-search", page.Events[0].CorrelationID)

	empty, err := store.Search(ctx, "nonexistent-token", false, models.NormalizePageRequest(0, 0))
	require.NoError(t, err)
	assert.Empty(t, empty.Events)
}

func TestEventStore_GetByBatch_StatsAndSummary(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	batchID := "batch-1"

	ok := sampleEvent("corr-batch-ok", 0)
	ok.IdempotencyKey = nil
	ok.BatchID = &batchID
	ok.EventType = models.EventTypeProcessEnd
	ok.EventStatus = models.EventStatusSuccess

	failing := sampleEvent("corr-batch-fail", 0)
	failing.IdempotencyKey = nil
	failing.BatchID = &batchID
	failing.EventType = models.EventTypeError
	failing.EventStatus = models.EventStatusFailure

	_, err := store.InsertBatch(ctx, []*models.EventInput{ok, failing})
	require.NoError(t, err)

	page, err := store.GetByBatch(ctx, batchID, models.NormalizePageRequest(0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Stats.TotalCount)
	assert.Equal(t, int64(2), page.Stats.UniqueCorrelationIDs)

	summary, err := store.GetBatchSummary(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalProcesses)
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, int64(1), summary.Failed)
}
