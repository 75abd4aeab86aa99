package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cadforge/api/internal/model"
)

// EngineClient talks to one CAD engine sidecar service over HTTP. The
// sidecar owns the geometry kernel; this client only ships scripts in and
// model files out.
type EngineClient struct {
	httpClient *http.Client
	baseURL    string
	engine     model.Engine
}

// NewEngineClient creates a client for an engine sidecar. An empty baseURL
// leaves the client unconfigured; workers fall back to the mock executor.
func NewEngineClient(engine model.Engine, baseURL string, timeout time.Duration) *EngineClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &EngineClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		engine:     engine,
	}
}

type computeRequest struct {
	Script  string         `json:"script"`
	Code    string         `json:"code"`
	Params  map[string]any `json:"params"`
	Formats []string       `json:"formats"`
}

type computeResponse struct {
	Models   map[string]model.RawModel `json:"models"`
	Duration int64                     `json:"duration"`
	Messages []string                  `json:"messages,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// Compute runs a script on the sidecar and returns its raw output. Engine
// failures come back as ExecutionError with the sidecar's detail.
func (c *EngineClient) Compute(ctx context.Context, payload *model.ComputePayload) (*model.RawOutput, error) {
	formats := make([]string, 0, len(payload.Script.Engine.Formats()))
	for _, f := range payload.Script.Engine.Formats() {
		formats = append(formats, string(f))
	}

	reqBody := computeRequest{
		Script:  payload.Script.FullID(),
		Code:    payload.Script.Code,
		Params:  payload.Params,
		Formats: formats,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("compute request marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compute", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine %s unreachable: %w", c.engine, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result computeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("engine %s returned invalid response: %w", c.engine, err)
	}

	if resp.StatusCode != http.StatusOK || result.Error != "" {
		reason := result.Error
		if reason == "" {
			reason = fmt.Sprintf("sidecar returned status %d", resp.StatusCode)
		}
		return nil, &model.ExecutionError{Engine: c.engine, Reason: reason}
	}

	models := make(map[model.ModelFormat]model.RawModel, len(result.Models))
	for f, m := range result.Models {
		models[model.ModelFormat(f)] = m
	}

	return &model.RawOutput{
		Models:   models,
		Duration: result.Duration,
		Messages: result.Messages,
	}, nil
}

// HealthCheck pings the sidecar.
func (c *EngineClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine %s unhealthy: status %d", c.engine, resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true when a sidecar URL is set.
func (c *EngineClient) IsConfigured() bool {
	return c.baseURL != ""
}
