package decisionsupportsdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Client is a minimal decision support HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/rest",
		Timeout:  10 * time.Second,
	}
}

// Record is a persisted decision support, investigation or process.
type Record struct {
	EntityID       int64  `json:"entityId"`
	RevisionID     int64  `json:"revisionId"`
	Label          string `json:"label"`
	RevisionStatus string `json:"revisionStatus"`
	IsCompleted    bool   `json:"isCompleted"`
	JSONString     string `json:"json_string"`
	CreatedTime    string `json:"createdTime"`
	UpdatedTime    string `json:"updatedTime"`
}

// Summary is one entry of the decision support list.
type Summary struct {
	Label          string `json:"label"`
	EntityID       int64  `json:"entityId"`
	RevisionID     int64  `json:"revisionId"`
	CreatedTime    string `json:"createdTime"`
	UpdatedTime    string `json:"updatedTime"`
	RevisionStatus string `json:"revisionStatus"`
	IsCompleted    bool   `json:"isCompleted"`
	JSONString     string `json:"json_string"`
}

// File describes an exported decision support file.
type File struct {
	EntityID    int64           `json:"entityId"`
	Key         string          `json:"key"`
	ContentType string          `json:"contentType"`
	Size        int64           `json:"size"`
	ETag        string          `json:"etag"`
	UpdatedTime string          `json:"updatedTime"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) ListDecisionSupport(ctx context.Context) ([]Summary, error) {
	var resp []Summary
	err := c.do(ctx, http.MethodGet, "support/list", nil, &resp)
	return resp, err
}

// GetDecisionSupport returns the raw payload of a decision support record.
func (c *Client) GetDecisionSupport(ctx context.Context, id string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, "support/get/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateDecisionSupport creates a record from data, which must name a process_id.
func (c *Client) CreateDecisionSupport(ctx context.Context, data map[string]any) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPost, "support/create", data, &resp)
	return resp, err
}

func (c *Client) UpdateDecisionSupport(ctx context.Context, id string, data map[string]any) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPatch, "support/update/"+url.PathEscape(id), data, &resp)
	return resp, err
}

func (c *Client) ArchiveDecisionSupport(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "support/archive/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ExportDecisionSupportFile(ctx context.Context, id string) (File, error) {
	var resp File
	err := c.do(ctx, http.MethodPost, "support/file/export/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) GetDecisionSupportFile(ctx context.Context, id string) (File, error) {
	var resp File
	err := c.do(ctx, http.MethodGet, "support/file/get/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateInvestigation(ctx context.Context, data map[string]any) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPost, "investigation/create", data, &resp)
	return resp, err
}

func (c *Client) GetInvestigation(ctx context.Context, id string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, "investigation/get/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateInvestigation(ctx context.Context, id string, data map[string]any) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPatch, "investigation/update/"+url.PathEscape(id), data, &resp)
	return resp, err
}

func (c *Client) CreateProcess(ctx context.Context, data map[string]any) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodPost, "process/create", data, &resp)
	return resp, err
}

func (c *Client) GetProcess(ctx context.Context, id string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, "process/get/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ListProcesses(ctx context.Context) ([]Record, error) {
	var resp []Record
	err := c.do(ctx, http.MethodGet, "process/list", nil, &resp)
	return resp, err
}

// Events lists recent audit events, newest first. Empty filters match everything.
func (c *Client) Events(ctx context.Context, entityKind, entityID string, limit int) ([]Event, error) {
	q := url.Values{}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
