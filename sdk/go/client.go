package civitracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Civitrack HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Report represents a citizen report.
type Report struct {
	ID             string  `json:"id"`
	Classification string  `json:"classification"`
	Location       *string `json:"location,omitempty"`
	Measurement    *string `json:"measurement,omitempty"`
	Status         string  `json:"status"`
	SubmittedBy    *string `json:"submitted_by,omitempty"`
	Description    *string `json:"description,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// WorkOrder represents the API work order model.
type WorkOrder struct {
	ID                   string  `json:"id"`
	ReportID             string  `json:"report_id"`
	SequenceNumber       string  `json:"sequence_number"`
	Status               string  `json:"status"`
	AssignedTo           *string `json:"assigned_to,omitempty"`
	EvidenceOriginalName *string `json:"evidence_original_name,omitempty"`
	CompletionAt         *string `json:"completion_at,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// AuditEntry represents an audit trail record.
type AuditEntry struct {
	ID            int64   `json:"id"`
	ActorID       string  `json:"actor_id"`
	ActorName     string  `json:"actor_name"`
	EntityType    string  `json:"entity_type"`
	EntityID      string  `json:"entity_id"`
	Action        string  `json:"action"`
	OldValue      *string `json:"old_value,omitempty"`
	NewValue      *string `json:"new_value,omitempty"`
	OriginAddress string  `json:"origin_address"`
	RecordedAt    string  `json:"recorded_at"`
}

// PaginatedAuditEntries wraps list responses with cursors.
type PaginatedAuditEntries struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitReport creates a report.
func (c *Client) SubmitReport(ctx context.Context, classification, location, description string) (Report, error) {
	body := map[string]any{
		"classification": classification,
	}
	if location != "" {
		body["location"] = location
	}
	if description != "" {
		body["description"] = description
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, "v1/reports", body, &resp)
	return resp, err
}

// GetReport fetches a report by id.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/reports/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// StatusCounts returns report counts keyed by status.
func (c *Client) StatusCounts(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "v1/reports/status-counts", nil, &resp)
	return resp.Counts, err
}

// AssignWorkOrder creates a work order for a report, or reassigns the
// existing one.
func (c *Client) AssignWorkOrder(ctx context.Context, reportID, assigneeID string) (WorkOrder, error) {
	body := map[string]any{
		"report_id": reportID,
	}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "v1/work-orders", body, &resp)
	return resp, err
}

// UpdateWorkOrderStatus changes a work order's status.
func (c *Client) UpdateWorkOrderStatus(ctx context.Context, id, status string) (WorkOrder, error) {
	body := map[string]any{"status": status}
	var resp WorkOrder
	endpoint := fmt.Sprintf("v1/work-orders/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// UploadEvidence uploads a completion document and moves the work order to
// the given terminal status (Completed when empty).
func (c *Client) UploadEvidence(ctx context.Context, id, status, filename string, content io.Reader) (WorkOrder, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return WorkOrder{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return WorkOrder{}, err
	}
	if status != "" {
		if err := mw.WriteField("status", status); err != nil {
			return WorkOrder{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return WorkOrder{}, err
	}

	endpoint := fmt.Sprintf("%s/v1/work-orders/%s/evidence", c.base(), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return WorkOrder{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return WorkOrder{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return WorkOrder{}, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var out WorkOrder
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// DeleteWorkOrder deletes a work order; its report returns to Submitted.
func (c *Client) DeleteWorkOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("v1/work-orders/%s", url.PathEscape(id)), nil, nil)
}

// AuditEntries returns audit records, newest first.
func (c *Client) AuditEntries(ctx context.Context, entityID string, limit int) ([]AuditEntry, error) {
	page, err := c.AuditEntriesPage(ctx, entityID, limit, "")
	return page.Items, err
}

// AuditEntriesPage returns a paginated audit listing.
func (c *Client) AuditEntriesPage(ctx context.Context, entityID string, limit int, cursor string) (PaginatedAuditEntries, error) {
	endpoint := "v1/audit-entries"
	params := url.Values{}
	if entityID != "" {
		params.Set("entity_id", entityID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedAuditEntries
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
