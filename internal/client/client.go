package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spool/internal/api"
	"spool/internal/services"
)

// Client talks to a spool daemon's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// New constructs a client for the daemon at baseURL (e.g.
// "http://127.0.0.1:5180").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob submits a source URL for extraction. created reports whether the
// daemon scheduled new work (false on cache hit or dedup attach).
func (c *Client) CreateJob(ctx context.Context, sourceURL, title string) (api.JobRecord, bool, error) {
	payload, err := json.Marshal(api.CreateJobRequest{URL: sourceURL, Title: title})
	if err != nil {
		return api.JobRecord{}, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs", bytes.NewReader(payload))
	if err != nil {
		return api.JobRecord{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return api.JobRecord{}, false, connectionError("create job", err)
	}
	defer resp.Body.Close()

	var record api.JobRecord
	if err := decodeResponse(resp, &record); err != nil {
		return api.JobRecord{}, false, err
	}
	return record, resp.StatusCode == http.StatusCreated, nil
}

// GetJob fetches the authoritative record for a job.
func (c *Client) GetJob(ctx context.Context, id string) (api.JobRecord, error) {
	var record api.JobRecord
	err := c.getJSON(ctx, "/api/jobs/"+url.PathEscape(id), &record)
	return record, err
}

// ListJobs fetches jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]api.JobRecord, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var listing api.JobListResponse
	if err := c.getJSON(ctx, path, &listing); err != nil {
		return nil, err
	}
	return listing.Jobs, nil
}

// Search runs a metadata-only catalog search.
func (c *Client) Search(ctx context.Context, query string, limit int) (api.SearchResponse, error) {
	values := url.Values{"q": {query}}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var response api.SearchResponse
	err := c.getJSON(ctx, "/api/search?"+values.Encode(), &response)
	return response, err
}

// CacheEntries lists cached artifacts.
func (c *Client) CacheEntries(ctx context.Context) ([]api.CacheEntry, error) {
	var listing api.CacheListResponse
	if err := c.getJSON(ctx, "/api/cache", &listing); err != nil {
		return nil, err
	}
	return listing.Entries, nil
}

// DeleteCacheEntry evicts one artifact by content key.
func (c *Client) DeleteCacheEntry(ctx context.Context, contentKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/cache/"+url.PathEscape(contentKey), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return connectionError("delete cache entry", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return decodeResponse(resp, nil)
}

// Health fetches daemon diagnostics.
func (c *Client) Health(ctx context.Context) (api.HealthStatus, error) {
	var health api.HealthStatus
	err := c.getJSON(ctx, "/api/health", &health)
	return health, err
}

// StreamURL resolves a record's relative stream path to a full URL.
func (c *Client) StreamURL(record api.JobRecord) string {
	if record.StreamURL == "" {
		return ""
	}
	return c.baseURL + record.StreamURL
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return connectionError("get "+path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// decodeResponse maps API error payloads back onto the service sentinels so
// callers keep using errors.Is across the process boundary.
func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	message := resp.Status
	var payload api.ErrorResponse
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return services.Wrap(services.ErrInvalidRequest, "client", "api", message, nil)
	case http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "client", "api", message, nil)
	case http.StatusConflict:
		return services.Wrap(services.ErrInvalidTransition, "client", "api", message, nil)
	default:
		return fmt.Errorf("api error (%d): %s", resp.StatusCode, message)
	}
}

func connectionError(operation string, err error) error {
	return services.Wrap(services.ErrConnectionLost, "client", operation, "daemon unreachable", err)
}
