package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/i-aayush/whatif/internal/models"
	"github.com/tidwall/gjson"
)

// JobStatus is the provider-side job state.
type JobStatus string

const (
	JobStarting   JobStatus = "starting"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// Terminal reports whether the provider will never change this status again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	}
	return false
}

// JobState is one observation of an external job.
type JobState struct {
	Status  JobStatus
	Outputs []string
	Error   string
}

// SubmitRequest describes a job to start on the provider.
type SubmitRequest struct {
	Kind  models.RunKind
	Model string
	Input map[string]any
	// Destination names the model trainings write into. Unused for inference.
	Destination string
}

// Client is the external inference/training provider boundary. It is an
// unreliable, latency-bearing dependency: callers must expect transient
// errors from every method.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, kind models.RunKind, externalID string) (*JobState, error)
	// CreateModel ensures the destination model for a training exists. An
	// already-existing model is not an error.
	CreateModel(ctx context.Context, name string) error
}

// HTTPClient talks to a replicate-style predictions/trainings HTTP API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	path := "/v1/predictions"
	body := map[string]any{
		"version": req.Model,
		"input":   req.Input,
	}
	if req.Kind == models.KindTraining {
		path = "/v1/trainings"
		body["destination"] = req.Destination
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}

	externalID := gjson.GetBytes(raw, "id").String()
	if externalID == "" {
		return "", fmt.Errorf("provider response missing job id")
	}
	slog.Info("external job submitted", "kind", req.Kind, "model", req.Model, "external_id", externalID)
	return externalID, nil
}

func (c *HTTPClient) Status(ctx context.Context, kind models.RunKind, externalID string) (*JobState, error) {
	path := "/v1/predictions/" + externalID
	if kind == models.KindTraining {
		path = "/v1/trainings/" + externalID
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return ParseJobState(raw), nil
}

func (c *HTTPClient) CreateModel(ctx context.Context, name string) error {
	payload, err := json.Marshal(map[string]any{
		"name":       name,
		"visibility": "private",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/models", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	// A conflict means the model already exists, which is fine.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	slog.Info("destination model created", "model", name)
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
