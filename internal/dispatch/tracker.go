package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cadforge/api/internal/model"
)

// inflight is the shared completion record for one fingerprint's job.
// bundle/failure are written once before done is closed; the close is the
// publication barrier for every attached waiter.
type inflight struct {
	jobID   string
	done    chan struct{}
	bundle  *model.ComponentBundle
	failure error
}

// Handle is a caller's attachment to an in-flight job. Dropping a handle
// (e.g. after a wait timeout) never cancels the job.
type Handle struct {
	JobID       string
	Fingerprint string
	infl        *inflight
}

// Tracker owns the job state machine and the per-fingerprint in-flight
// registry. The registry plus the result cache are the only shared mutable
// state in the core; everything else flows through the broker.
type Tracker struct {
	store JobStore

	// jobMu serializes job record transitions; the store round-trip is a
	// read-modify-write with no locking of its own.
	jobMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]*inflight
}

func NewTracker(store JobStore) *Tracker {
	return &Tracker{
		store:    store,
		inflight: make(map[string]*inflight),
	}
}

// CacheCheck re-checks the result cache inside the registry lock.
type CacheCheck func(ctx context.Context) (*model.ComponentBundle, error)

// AttachOrCreate is the critical section guarding the at-most-one-in-flight
// property. Under the registry lock it attaches the caller to an existing
// in-flight job for the fingerprint; otherwise it runs check (a cache lookup)
// and, still on a miss, registers job as the fingerprint's single execution
// and persists it as Pending. Returns (bundle, nil, false) on a cache hit,
// (nil, handle, false) when attached, (nil, handle, true) when created.
func (t *Tracker) AttachOrCreate(ctx context.Context, job *model.Job, check CacheCheck) (*model.ComponentBundle, *Handle, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if infl, ok := t.inflight[job.Fingerprint]; ok {
		return nil, &Handle{JobID: infl.jobID, Fingerprint: job.Fingerprint, infl: infl}, false, nil
	}

	if check != nil {
		bundle, err := check(ctx)
		if err != nil {
			return nil, nil, false, err
		}
		if bundle != nil {
			return bundle, nil, false, nil
		}
	}

	job.Status = model.JobStatusPending
	if err := t.store.Save(ctx, job); err != nil {
		return nil, nil, false, err
	}

	infl := &inflight{jobID: job.ID, done: make(chan struct{})}
	t.inflight[job.Fingerprint] = infl
	return nil, &Handle{JobID: job.ID, Fingerprint: job.Fingerprint, infl: infl}, true, nil
}

// MarkQueued records the successful broker handoff. Skipped when a worker
// already advanced the job past the queue.
func (t *Tracker) MarkQueued(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, func(job *model.Job) {
		if job.Status != model.JobStatusPending {
			return
		}
		job.Status = model.JobStatusQueued
	})
}

// MarkRunning records that a worker claimed the job.
func (t *Tracker) MarkRunning(ctx context.Context, jobID string) error {
	return t.transition(ctx, jobID, func(job *model.Job) {
		if job.Status.Terminal() {
			return
		}
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	})
}

// Succeed resolves the job and broadcasts the bundle to every attached
// waiter. Idempotent per fingerprint: the registry entry is consumed.
func (t *Tracker) Succeed(ctx context.Context, jobID, fingerprint string, bundle *model.ComponentBundle) error {
	err := t.transition(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusSucceeded
		now := time.Now()
		job.CompletedAt = &now
	})

	t.resolve(fingerprint, bundle, nil)
	return err
}

// Fail resolves the job with a failure; all waiters observe the same
// failure detail, as do late pollers via the job record.
func (t *Tracker) Fail(ctx context.Context, jobID, fingerprint string, failure error) error {
	msg := failure.Error()
	err := t.transition(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusFailed
		job.Error = &msg
		now := time.Now()
		job.CompletedAt = &now
	})

	t.resolve(fingerprint, nil, failure)
	return err
}

func (t *Tracker) resolve(fingerprint string, bundle *model.ComponentBundle, failure error) {
	t.mu.Lock()
	infl, ok := t.inflight[fingerprint]
	if ok {
		delete(t.inflight, fingerprint)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	infl.bundle = bundle
	infl.failure = failure
	close(infl.done)
}

// Wait blocks the caller until the job reaches a terminal state or the
// timeout elapses. A timeout returns ErrWaitTimeout and leaves the job
// running; the next caller with the same fingerprint attaches to it.
func (t *Tracker) Wait(ctx context.Context, h *Handle, timeout time.Duration) (*model.ComponentBundle, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.infl.done:
		if h.infl.failure != nil {
			return nil, h.infl.failure
		}
		return h.infl.bundle, nil
	case <-timer.C:
		return nil, model.ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Job returns the persisted job record (polling mode).
func (t *Tracker) Job(ctx context.Context, jobID string) (*model.Job, error) {
	return t.store.Get(ctx, jobID)
}

// InflightCount reports the registry size. Used by the health endpoint.
func (t *Tracker) InflightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// transition applies one state change as a serialized read-modify-write.
// Without the lock a slow MarkQueued could read a pending record, lose the
// CPU to the worker's MarkRunning/Succeed, then save its stale copy over
// the terminal one.
func (t *Tracker) transition(ctx context.Context, jobID string, mutate func(*model.Job)) error {
	t.jobMu.Lock()
	defer t.jobMu.Unlock()

	job, err := t.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	mutate(job)
	return t.store.Save(ctx, job)
}
