// Package eventclient is the typed HTTP client for the /v1 API, used
// directly by callers that want synchronous semantics and by the async
// logger's sender workers underneath the fire-and-forget API.
package eventclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/processlog/eventlog/client/token"
	"github.com/processlog/eventlog/client/transport"
	"github.com/processlog/eventlog/pkg/models"
)

// Client is a synchronous client for the eventlogd HTTP API.
type Client struct {
	transport *transport.Transport
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	TokenProvider token.Provider
}

// New creates a Client pointed at BaseURL (e.g. "http://localhost:8080").
func New(cfg Config) *Client {
	return &Client{transport: transport.New(transport.Config{
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		MaxRetries:     3,
		BaseRetryDelay: 1 * time.Second,
		MaxRetryDelay:  30 * time.Second,
		TokenProvider:  cfg.TokenProvider,
	})}
}

// ErrUnexpectedStatus is returned when the server responds with a status
// code the client has no specific handling for.
type ErrUnexpectedStatus struct {
	StatusCode int
	Body       string
}

func (e *ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, wantStatus int) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}

	resp, respBody, err := c.transport.Do(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return &ErrUnexpectedStatus{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// InsertEvent sends a single event via POST /v1/events.
func (c *Client) InsertEvent(ctx context.Context, in *models.EventInput) (*models.InsertResponse, error) {
	var out models.InsertResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", in, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertEvents sends an array of events via POST /v1/events.
func (c *Client) InsertEvents(ctx context.Context, events []*models.EventInput) (*models.InsertResponse, error) {
	var out models.InsertResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", events, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertBatch sends an explicit batch via POST /v1/events/batch.
func (c *Client) InsertBatch(ctx context.Context, req *models.BatchInsertRequest) (*models.BatchInsertResponse, error) {
	var out models.BatchInsertResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/batch", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByCorrelation calls GET /v1/events/correlation/{id}.
func (c *Client) GetByCorrelation(ctx context.Context, correlationID string) (*models.CorrelationQueryResponse, error) {
	var out models.CorrelationQueryResponse
	path := "/v1/events/correlation/" + url.PathEscape(correlationID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByTrace calls GET /v1/events/trace/{id}.
func (c *Client) GetByTrace(ctx context.Context, traceID string) (*models.TraceQueryResponse, error) {
	var out models.TraceQueryResponse
	path := "/v1/events/trace/" + url.PathEscape(traceID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountQueryOptions holds the optional filters for GetByAccount.
type AccountQueryOptions struct {
	Page          int
	PageSize      int
	StartDate     *time.Time
	EndDate       *time.Time
	ProcessName   string
	EventStatus   string
	IncludeLinked bool
}

// GetByAccount calls GET /v1/events/account/{id} with the given filters.
func (c *Client) GetByAccount(ctx context.Context, accountID string, opts AccountQueryOptions) (*models.Page, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.StartDate != nil {
		q.Set("start_date", opts.StartDate.Format(time.RFC3339))
	}
	if opts.EndDate != nil {
		q.Set("end_date", opts.EndDate.Format(time.RFC3339))
	}
	if opts.ProcessName != "" {
		q.Set("process_name", opts.ProcessName)
	}
	if opts.EventStatus != "" {
		q.Set("event_status", opts.EventStatus)
	}
	if opts.IncludeLinked {
		q.Set("include_linked", "true")
	}

	var out models.Page
	path := "/v1/events/account/" + url.PathEscape(accountID) + "?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByBatch calls GET /v1/events/batch/{id}.
func (c *Client) GetByBatch(ctx context.Context, batchID string, page, pageSize int) (*models.BatchPageResponse, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out models.BatchPageResponse
	path := "/v1/events/batch/" + url.PathEscape(batchID) + "?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBatchSummary calls GET /v1/events/batch/{id}/summary.
func (c *Client) GetBatchSummary(ctx context.Context, batchID string) (*models.BatchSummaryResponse, error) {
	var out models.BatchSummaryResponse
	path := "/v1/events/batch/" + url.PathEscape(batchID) + "/summary"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search calls GET /v1/events/search.
func (c *Client) Search(ctx context.Context, query string, page, pageSize int) (*models.Page, error) {
	q := url.Values{"query": {query}}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	var out models.Page
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events/search?"+q.Encode(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCorrelationLink calls POST /v1/correlation-links.
func (c *Client) CreateCorrelationLink(ctx context.Context, req *models.CreateCorrelationLinkRequest) (*models.CorrelationLink, error) {
	var out models.CorrelationLink
	if err := c.doJSON(ctx, http.MethodPost, "/v1/correlation-links", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}
