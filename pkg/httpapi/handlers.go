package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/processlog/eventlog/pkg/models"
)

// insertEventsHandler handles POST /v1/events. The body is either a single
// EventInput object or a JSON array of them (spec.md §6); either shape
// produces the same InsertResponse.
func (s *Server) insertEventsHandler(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	inputs, err := decodeEventOrArray(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(inputs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one event is required"})
		return
	}

	for i, in := range inputs {
		if err := models.ValidateEventInput(in); err != nil {
			s.incRejected("validation")
			writeValidationError(c, err, i)
			return
		}
	}

	if len(inputs) == 1 {
		executionID, err := s.store.InsertSingle(c.Request.Context(), inputs[0])
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, models.InsertResponse{ExecutionIDs: []string{executionID}})
		return
	}

	result, err := s.store.InsertBatch(c.Request.Context(), inputs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.InsertResponse{ExecutionIDs: result.ExecutionIDs, Errors: result.Errors})
}

func decodeEventOrArray(raw []byte) ([]*models.EventInput, error) {
	var single models.EventInput
	if err := json.Unmarshal(raw, &single); err == nil && single.CorrelationID != "" {
		return []*models.EventInput{&single}, nil
	}

	var many []*models.EventInput
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// insertBatchHandler handles POST /v1/events/batch: an explicit batch_id
// grouping many events submitted together (spec.md §6).
func (s *Server) insertBatchHandler(c *gin.Context) {
	var req models.BatchInsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.BatchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch_id is required"})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "events must not be empty"})
		return
	}

	inputs := make([]*models.EventInput, len(req.Events))
	for i := range req.Events {
		ev := req.Events[i]
		ev.BatchID = &req.BatchID
		if err := models.ValidateEventInput(&ev); err != nil {
			s.incRejected("validation")
			writeValidationError(c, err, i)
			return
		}
		inputs[i] = &ev
	}

	if _, err := s.store.CreateBatch(c.Request.Context(), req.BatchID, req.Label); err != nil {
		writeError(c, err)
		return
	}

	result, err := s.store.InsertBatch(c.Request.Context(), inputs)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.BatchInsertResponse{
		BatchID:        req.BatchID,
		ExecutionIDs:   result.ExecutionIDs,
		Errors:         result.Errors,
		TotalInserted:  len(result.ExecutionIDs) - len(result.Errors),
		CorrelationIDs: result.CorrelationIDs,
	})
}

// getByCorrelationHandler handles GET /v1/events/correlation/:id.
func (s *Server) getByCorrelationHandler(c *gin.Context) {
	resp, err := s.store.GetByCorrelation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getByTraceHandler handles GET /v1/events/trace/:id.
func (s *Server) getByTraceHandler(c *gin.Context) {
	resp, err := s.store.GetByTrace(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getByAccountHandler handles GET /v1/events/account/:id with the optional
// filters documented in spec.md §6: page, page_size, start_date, end_date,
// process_name, event_status, include_linked.
func (s *Server) getByAccountHandler(c *gin.Context) {
	filter, err := parseAccountFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page := parsePageRequest(c)
	resp, err := s.store.GetByAccount(c.Request.Context(), c.Param("id"), filter, page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseAccountFilter(c *gin.Context) (models.AccountQueryFilter, error) {
	var filter models.AccountQueryFilter

	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &t
	}
	if raw := c.Query("process_name"); raw != "" {
		filter.ProcessName = &raw
	}
	if raw := c.Query("event_status"); raw != "" {
		status := models.EventStatus(raw)
		if !status.IsValid() {
			return filter, errInvalidEventStatus(raw)
		}
		filter.EventStatus = &status
	}
	filter.IncludeLinked = c.Query("include_linked") == "true"

	return filter, nil
}

func errInvalidEventStatus(raw string) error {
	return &invalidQueryParamError{param: "event_status", value: raw}
}

type invalidQueryParamError struct {
	param string
	value string
}

func (e *invalidQueryParamError) Error() string {
	return "invalid " + e.param + ": " + e.value
}

// getByBatchHandler handles GET /v1/events/batch/:id.
func (s *Server) getByBatchHandler(c *gin.Context) {
	page := parsePageRequest(c)
	resp, err := s.store.GetByBatch(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getBatchSummaryHandler handles GET /v1/events/batch/:id/summary.
func (s *Server) getBatchSummaryHandler(c *gin.Context) {
	resp, err := s.store.GetBatchSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// searchHandler handles GET /v1/events/search?query=....
func (s *Server) searchHandler(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	page := parsePageRequest(c)
	resp, err := s.store.Search(c.Request.Context(), query, s.dbClient.FullTextEnabled(), page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// createCorrelationLinkHandler handles POST /v1/correlation-links.
func (s *Server) createCorrelationLinkHandler(c *gin.Context) {
	var req models.CreateCorrelationLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CorrelationID == "" || req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correlation_id and account_id are required"})
		return
	}

	link, err := s.store.CreateCorrelationLink(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func parsePageRequest(c *gin.Context) models.PageRequest {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	return models.NormalizePageRequest(page, pageSize)
}
