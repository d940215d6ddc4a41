package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/processlog/eventlog/pkg/config"
	"github.com/processlog/eventlog/pkg/database"
	"github.com/processlog/eventlog/pkg/models"
	"github.com/processlog/eventlog/pkg/obs"
	"github.com/processlog/eventlog/pkg/store"
	"github.com/processlog/eventlog/test/util"
)

func newTestServer(t *testing.T) *Server {
	db := util.SetupTestDatabase(t)

	dbClient := database.NewClientFromDB(db, false)
	metrics := obs.NewWithRegistry("eventlogd-test-"+t.Name(), prometheus.NewRegistry())
	eventStore := store.NewEventStore(db, metrics)
	cfg := &config.Config{GinMode: "test", MaxBodyBytes: 2 * 1024 * 1024}

	return NewServer(cfg, dbClient, eventStore, metrics)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func sampleInput(correlationID string) models.EventInput {
	return models.EventInput{
		CorrelationID:     correlationID,
		TraceID:           "trace-" + correlationID,
		ApplicationID:     "app-1",
		OriginatingSystem: "sys-a",
		TargetSystem:      "sys-b",
		ProcessName:       "onboarding",
		EventType:         models.EventTypeProcessStart,
		EventStatus:       models.EventStatusSuccess,
		Identifiers:       map[string]string{"order_id": "o-1"},
		Summary:           "process started",
		EventTimestamp:    time.Now().UTC(),
	}
}

func TestInsertEventsHandler_SingleAndArray(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/events", sampleInput("corr-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.InsertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ExecutionIDs, 1)
	assert.NotEmpty(t, resp.ExecutionIDs[0])

	arr := []models.EventInput{sampleInput("corr-2"), sampleInput("corr-3")}
	rec = doRequest(t, s, http.MethodPost, "/v1/events", arr)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.ExecutionIDs, 2)
}

func TestInsertEventsHandler_ValidationError(t *testing.T) {
	s := newTestServer(t)

	bad := sampleInput("corr-bad")
	bad.Summary = ""
	rec := doRequest(t, s, http.MethodPost, "/v1/events", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetByCorrelationHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/events", sampleInput("corr-lookup"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/events/correlation/corr-lookup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.CorrelationQueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.False(t, resp.IsLinked)
}

func TestCreateCorrelationLinkHandler(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/correlation-links", models.CreateCorrelationLinkRequest{
		CorrelationID: "corr-link",
		AccountID:     "acct-9",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/correlation-links", models.CreateCorrelationLinkRequest{
		CorrelationID: "corr-link",
		AccountID:     "acct-9",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/v1/correlation-links", models.CreateCorrelationLinkRequest{
		CorrelationID: "corr-link",
		AccountID:     "acct-other",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthcheckHandlers(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/healthcheck", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/healthcheck/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchInsertAndSummary(t *testing.T) {
	s := newTestServer(t)

	req := models.BatchInsertRequest{
		BatchID: "batch-http-1",
		Events:  []models.EventInput{sampleInput("corr-b1"), sampleInput("corr-b2")},
	}
	rec := doRequest(t, s, http.MethodPost, "/v1/events/batch", req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/events/batch/batch-http-1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.BatchSummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(2), summary.TotalProcesses)
}
