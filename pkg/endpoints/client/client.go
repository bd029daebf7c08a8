// Package client is a small HTTP client for the gateway fronting a deployed
// pipeline. The gateway is downstream of the deploy core; this client only
// speaks the routes it exposes: POST /run, GET /jobs/{id}, GET /healthz,
// and the file endpoints, all behind an x-api-key header.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "x-api-key"

// ErrUnauthorized reports a missing or rejected API key.
var ErrUnauthorized = fmt.Errorf("gateway rejected the API key")

// Client talks to one deployed gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the gateway at baseURL.
func New(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Healthz probes the health route of the gateway at baseURL with a
// short-lived anonymous client. The route is unauthenticated.
func Healthz(ctx context.Context, baseURL string) error {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	return c.Healthz(ctx, "")
}

// Job is a gateway job record.
type Job struct {
	JobID  string         `json:"job_id"`
	State  string         `json:"state"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Healthz checks the unauthenticated health route. Any non-200 answer is an
// error.
func (c *Client) Healthz(ctx context.Context, baseURL string) error {
	target := c.baseURL
	if baseURL != "" {
		target = strings.TrimRight(baseURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Run submits a job payload and returns the queued job. The gateway answers
// 202 with the job id; execution is asynchronous.
func (c *Client) Run(ctx context.Context, payload map[string]any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run payload: %w", err)
	}

	var job Job
	if err := c.doJSON(ctx, http.MethodPost, "/run", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob polls a job until it leaves the queued/running states or the
// context expires.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch job.State {
		case "queued", "running":
		default:
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// UploadFile stores content on the gateway and returns the file record.
func (c *Client) UploadFile(ctx context.Context, content []byte, mediaType, name string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", mediaType)
	if name != "" {
		req.Header.Set("X-File-Name", name)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

// DownloadFile fetches stored file content by id.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := decodeResponse(resp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func decodeResponse(resp *http.Response) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		detail := strings.TrimSpace(string(raw))
		return nil, fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, detail)
	}

	payload := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return payload, nil
}
