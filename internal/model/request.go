package model

import "time"

// ModelRequest is the inbound request for a parametric model.
// Org and script name come from the route; the rest from the body.
type ModelRequest struct {
	Org            string         `json:"-"`
	Script         string         `json:"-"`
	Version        string         `json:"version,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Preset         string         `json:"preset,omitempty"`
	Format         ModelFormat    `json:"format,omitempty" validate:"omitempty,oneof=step gltf stl"`
	WaitMode       WaitMode       `json:"waitMode,omitempty" validate:"omitempty,oneof=blocking async"`
	TimeoutSeconds int            `json:"timeoutSeconds,omitempty" validate:"omitempty,min=1,max=300"`
}

// ModelResponse is returned for a model request. Bundle is set on a cache
// hit or a blocking wait that finished in time; otherwise the caller gets
// a job handle to poll.
type ModelResponse struct {
	JobID       string           `json:"jobId,omitempty"`
	Status      JobStatus        `json:"status"`
	Fingerprint string           `json:"fingerprint"`
	Cached      bool             `json:"cached"`
	TimedOut    bool             `json:"timedOut,omitempty"`
	Bundle      *ComponentBundle `json:"bundle,omitempty"`
}

// JobStatusResponse is the polling view of a job.
type JobStatusResponse struct {
	JobID       string      `json:"jobId"`
	Status      JobStatus   `json:"status"`
	Fingerprint string      `json:"fingerprint"`
	Queue       string      `json:"queue"`
	Format      ModelFormat `json:"format"`
	Error       *string     `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// JobEvent is pushed to websocket subscribers on state transitions.
type JobEvent struct {
	Type   string    `json:"type"` // "status" | "complete" | "error"
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// SearchQuery is the library search input.
type SearchQuery struct {
	Q string `json:"q" validate:"omitempty,max=128"`
}
