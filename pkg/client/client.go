package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// Client is an HTTP client for a become-image worker
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RunStatus is the recorded state of a run as returned by the worker
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	Seed       *int64     `json:"seed,omitempty"`
	Outputs    []string   `json:"outputs,omitempty"`
	Dropped    int        `json:"dropped,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusError is returned when the worker answers with a non-success status
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// New creates a new pipeline client. Predictions wait for the engine, so there is no request timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Predict runs a prediction and waits for its outputs
func (c *Client) Predict(ctx context.Context, req pipeline.PredictRequest) (*pipeline.PredictResponse, error) {
	var resp pipeline.PredictResponse
	if err := c.do(ctx, http.MethodPost, "/v1/predict", req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue queues a prediction on the worker's durable queue and returns its run id
func (c *Client) Enqueue(ctx context.Context, req pipeline.PredictRequest) (string, error) {
	var resp pipeline.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/v1/predictions", req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Status returns the recorded state of a run
func (c *Client) Status(ctx context.Context, runID string) (*RunStatus, error) {
	var resp RunStatus
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var errResp struct {
			Error string `json:"error"`
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		msg := string(bodyBytes)
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
