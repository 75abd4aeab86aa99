package model

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across package boundaries.
var (
	ErrScriptNotFound    = errors.New("script not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrUnsupportedEngine = errors.New("unsupported engine")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrWaitTimeout       = errors.New("wait timeout")
	ErrNotPublished      = errors.New("bundle not published")
)

// ValidationError reports one bad parameter. Never retried.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %q: %s", e.Param, e.Reason)
}

// DispatchError means the broker handoff failed. The job is marked failed;
// a retry is a new request, never an internal replay.
type DispatchError struct {
	Queue string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to queue %q failed: %v", e.Queue, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ExecutionError is a failure raised by the engine while running a script.
// Stored on the job; never cached as a success.
type ExecutionError struct {
	Engine Engine
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Engine, e.Reason)
}
