package model

import "time"

// Job is the runtime instance of one execution request. Persisted as JSON
// in the job store; shared by every caller attached to the same fingerprint.
type Job struct {
	ID          string      `json:"id"`
	Fingerprint string      `json:"fingerprint"`
	Org         string      `json:"org"`
	Script      string      `json:"script"`
	Version     string      `json:"version"`
	Engine      Engine      `json:"engine"`
	Queue       string      `json:"queue"`
	Format      ModelFormat `json:"format"`
	Status      JobStatus   `json:"status"`
	Error       *string     `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// ComputePayload is the enqueue payload handed to an engine worker.
// It carries everything the worker needs so it never re-validates.
type ComputePayload struct {
	JobID       string            `json:"jobId"`
	Fingerprint string            `json:"fingerprint"`
	Script      *ScriptDescriptor `json:"script"`
	Params      map[string]any    `json:"params"`
	Format      ModelFormat       `json:"format"`
}

// RawModel is one engine-produced model file before assembly. STEP is
// carried as text, binary formats as base64 (worker convention).
type RawModel struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// RawOutput is what an Executor returns: one or more format variants
// produced in a single engine run, plus timing and engine chatter.
type RawOutput struct {
	Models   map[ModelFormat]RawModel `json:"models"`
	Duration int64                    `json:"duration"` // ms
	Messages []string                 `json:"messages,omitempty"`
}
