package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/cadforge/api/internal/assemble"
	"github.com/cadforge/api/internal/cache"
	"github.com/cadforge/api/internal/dispatch"
	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/websocket"
)

// ScriptWorker processes compute tasks for one engine's queue
type ScriptWorker struct {
	engine    model.Engine
	executor  Executor
	tracker   *dispatch.Tracker
	assembler *assemble.Assembler
	cache     cache.Store
	hub       *websocket.Hub
}

// NewScriptWorker creates a worker bound to an engine queue
func NewScriptWorker(engine model.Engine, executor Executor, tracker *dispatch.Tracker, assembler *assemble.Assembler, cacheStore cache.Store, hub *websocket.Hub) *ScriptWorker {
	return &ScriptWorker{
		engine:    engine,
		executor:  executor,
		tracker:   tracker,
		assembler: assembler,
		cache:     cacheStore,
		hub:       hub,
	}
}

// ProcessTask handles one compute task end to end
func (w *ScriptWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ComputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal compute payload: %w", err)
	}

	log.Printf("Starting compute job: %s (engine=%s, script=%s)",
		payload.JobID, w.engine, payload.Script.FullID())

	if err := w.tracker.MarkRunning(ctx, payload.JobID); err != nil {
		log.Printf("Failed to mark job %s running: %v", payload.JobID, err)
	}
	if w.hub != nil {
		w.hub.BroadcastStatus(payload.JobID, model.JobStatusRunning)
	}

	out, err := w.executor.Execute(ctx, &payload)
	if err != nil {
		return w.failJob(ctx, &payload, err)
	}

	bundle, err := w.assembler.Assemble(ctx, out, payload.Script, payload.Params, payload.Format, payload.Fingerprint)
	if err != nil {
		return w.failJob(ctx, &payload, err)
	}

	// Failures are never cached; only a fully assembled bundle is written.
	if err := w.cache.Put(ctx, payload.Fingerprint, bundle); err != nil {
		log.Printf("Failed to cache bundle %s: %v", payload.Fingerprint, err)
	}

	if err := w.tracker.Succeed(ctx, payload.JobID, payload.Fingerprint, bundle); err != nil {
		log.Printf("Failed to record success for job %s: %v", payload.JobID, err)
	}
	if w.hub != nil {
		w.hub.BroadcastComplete(payload.JobID)
	}

	log.Printf("Compute job completed: %s (%dms)", payload.JobID, out.Duration)
	return nil
}

func (w *ScriptWorker) failJob(ctx context.Context, payload *model.ComputePayload, cause error) error {
	var execErr *model.ExecutionError
	if !errors.As(cause, &execErr) {
		cause = &model.ExecutionError{Engine: w.engine, Reason: cause.Error()}
	}

	if err := w.tracker.Fail(ctx, payload.JobID, payload.Fingerprint, cause); err != nil {
		log.Printf("Failed to record failure for job %s: %v", payload.JobID, err)
	}
	if w.hub != nil {
		w.hub.BroadcastError(payload.JobID, cause.Error())
	}

	log.Printf("Compute job failed: %s: %v", payload.JobID, cause)
	// The failure is terminal for this job; do not let asynq retry it.
	return nil
}
