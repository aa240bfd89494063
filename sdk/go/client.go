// Package geoforgesdk is a minimal Geoforge HTTP API client.
package geoforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Geoforge server. Token is sent on every request.
type Client struct {
	BaseURL     string
	Token       string
	TokenHeader string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		Token:       token,
		TokenHeader: "X-Token",
		Timeout:     30 * time.Second,
	}
}

// APIError carries a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// SessionInfo is the session overview.
type SessionInfo struct {
	LastRequest   string       `json:"last_request"`
	DatasetCount  int          `json:"datasets"`
	ActiveDataset *DatasetInfo `json:"active_dataset"`
}

// DatasetInfo describes a dataset and its lineage.
type DatasetInfo struct {
	Label        string    `json:"label"`
	Created      string    `json:"created"`
	BBox         []float64 `json:"bbox,omitempty"`
	EPSG         int       `json:"epsg"`
	FeatureCount int       `json:"features"`
	Driver       string    `json:"driver"`
	Source       *string   `json:"source"`
	Action       *string   `json:"action"`
}

// Ticket acknowledges an accepted asynchronous job.
type Ticket struct {
	Ticket    string `json:"ticket"`
	StatusURI string `json:"statusUri"`
}

// JobStatus is the polling view of a job.
type JobStatus struct {
	Ticket         string   `json:"ticket"`
	IdempotencyKey *string  `json:"idempotencyKey"`
	RequestType    string   `json:"requestType"`
	Initiated      string   `json:"initiated"`
	ExecutionTime  *float64 `json:"executionTime"`
	Completed      bool     `json:"completed"`
	Success        *bool    `json:"success"`
	ErrorMessage   *string  `json:"errorMessage"`
	Resources      struct {
		DatasetLabel *string `json:"datasetLabel"`
		Link         *string `json:"link"`
		OutputPath   *string `json:"outputPath"`
	} `json:"resources"`
}

// IngestRequest submits a source file for ingestion.
type IngestRequest struct {
	Path      string `json:"path"`
	Label     string `json:"label"`
	CRS       string `json:"crs,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Delimiter string `json:"delimiter,omitempty"`
	Lat       string `json:"lat,omitempty"`
	Lon       string `json:"lon,omitempty"`
	Geom      string `json:"geom,omitempty"`
}

func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var out SessionInfo
	err := c.do(ctx, http.MethodGet, "/session", nil, &out)
	return out, err
}

func (c *Client) Ingest(ctx context.Context, req IngestRequest) (Ticket, error) {
	var out Ticket
	err := c.do(ctx, http.MethodPost, "/session/ingest", req, &out)
	return out, err
}

func (c *Client) CloseSession(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/session", nil, nil)
}

func (c *Client) SetActiveDataset(ctx context.Context, label string) (DatasetInfo, error) {
	var out DatasetInfo
	err := c.do(ctx, http.MethodPut, "/session/active", map[string]string{"label": label}, &out)
	return out, err
}

// ExportRequest queues an export of a dataset. CopyToOutput persists the
// artifact beyond the session lifetime.
type ExportRequest struct {
	Label        string `json:"label,omitempty"`
	Driver       string `json:"driver,omitempty"`
	CopyToOutput bool   `json:"copy_to_output,omitempty"`
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (Ticket, error) {
	var out Ticket
	err := c.do(ctx, http.MethodPost, "/session/export", req, &out)
	return out, err
}

func (c *Client) Datasets(ctx context.Context) ([]DatasetInfo, error) {
	var out []DatasetInfo
	err := c.do(ctx, http.MethodGet, "/datasets", nil, &out)
	return out, err
}

// Status polls a job by ticket.
func (c *Client) Status(ctx context.Context, ticket string) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/jobs/status?ticket="+url.QueryEscape(ticket), nil, &out)
	return out, err
}

// WaitFor polls a job until completion or ctx expires.
func (c *Client) WaitFor(ctx context.Context, ticket string, interval time.Duration) (JobStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		status, err := c.Status(ctx, ticket)
		if err != nil {
			return status, err
		}
		if status.Completed {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Transform runs one synchronous derivation, e.g. path
// "/constructive/centroid" or "/filter/within".
func (c *Client) Transform(ctx context.Context, path string, body any) (DatasetInfo, error) {
	var out DatasetInfo
	err := c.do(ctx, http.MethodPost, path, body, &out)
	return out, err
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	header := c.TokenHeader
	if header == "" {
		header = "X-Token"
	}
	if c.Token != "" {
		req.Header.Set(header, c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
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
