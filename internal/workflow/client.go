// Package workflow talks to the external workflow-task collaborator.
//
// The scheduler does not own workflow tasks; it only asks their owner to
// find overdue items and transition them. The owner is reached over HTTP.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient implements tasks.WorkflowTasks against a sweep endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type sweepRequest struct {
	Now time.Time `json:"now"`
}

type sweepResponse struct {
	Transitioned int `json:"transitioned"`
}

// SweepOverdue asks the collaborator to transition tasks overdue as of
// now and returns how many it touched.
func (c *HTTPClient) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	body, err := json.Marshal(sweepRequest{Now: now.UTC()})
	if err != nil {
		return 0, fmt.Errorf("marshal sweep request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create sweep request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sweep request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("sweep endpoint returned status %d", resp.StatusCode)
	}

	var out sweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode sweep response: %w", err)
	}
	return out.Transitioned, nil
}

// Noop is used when no sweep endpoint is configured. It always finds
// zero overdue items.
type Noop struct{}

func (Noop) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
