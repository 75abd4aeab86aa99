package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cadforge/api/internal/assemble"
	"github.com/cadforge/api/internal/cache"
	"github.com/cadforge/api/internal/client"
	"github.com/cadforge/api/internal/config"
	"github.com/cadforge/api/internal/dispatch"
	"github.com/cadforge/api/internal/fingerprint"
	"github.com/cadforge/api/internal/library"
	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/params"
)

// ModelService orchestrates a model request from validation through cache
// lookup, dispatch and result delivery.
type ModelService struct {
	library *library.Library
	cache   cache.Store
	tracker *dispatch.Tracker
	router  *dispatch.Router
	storage client.StorageClient
	wait    config.WaitConfig
}

// NewModelService creates a new model service. storage may be nil when
// bundle publishing is disabled.
func NewModelService(lib *library.Library, cacheStore cache.Store, tracker *dispatch.Tracker, router *dispatch.Router, storage client.StorageClient, wait config.WaitConfig) *ModelService {
	return &ModelService{
		library: lib,
		cache:   cacheStore,
		tracker: tracker,
		router:  router,
		storage: storage,
		wait:    wait,
	}
}

// RequestModel handles one model request. Cache hits return immediately;
// otherwise the caller either blocks for the result (up to its timeout) or
// gets a job handle back to poll.
func (s *ModelService) RequestModel(ctx context.Context, req *model.ModelRequest) (*model.ModelResponse, error) {
	script, err := s.library.Lookup(req.Org, req.Script, req.Version)
	if err != nil {
		return nil, err
	}

	if !s.router.Enabled(script.Engine) {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedEngine, script.Engine)
	}

	format := req.Format
	if format == "" {
		format = script.DefaultFormat
	}
	// Format support is checked before any job exists so a bad format can
	// never occupy the fingerprint's execution slot.
	if !script.Engine.Supports(format) {
		return nil, fmt.Errorf("%w: engine %s does not produce %s", model.ErrUnsupportedFormat, script.Engine, format)
	}

	validated, err := params.Resolve(script, req.Preset, req.Params)
	if err != nil {
		return nil, err
	}

	fp := fingerprint.ForRequest(script, validated, format)

	job := &model.Job{
		ID:          uuid.New().String(),
		Fingerprint: fp,
		Org:         script.Org,
		Script:      script.Name,
		Version:     script.Version,
		Engine:      script.Engine,
		Format:      format,
		CreatedAt:   time.Now(),
	}
	if queue, err := s.router.Route(script.Engine); err == nil {
		job.Queue = queue
	}

	bundle, handle, created, err := s.tracker.AttachOrCreate(ctx, job, func(ctx context.Context) (*model.ComponentBundle, error) {
		return s.cache.Get(ctx, fp)
	})
	if err != nil {
		return nil, err
	}

	if bundle != nil {
		return &model.ModelResponse{
			Status:      model.JobStatusSucceeded,
			Fingerprint: fp,
			Cached:      true,
			Bundle:      bundle,
		}, nil
	}

	if created {
		payload := &model.ComputePayload{
			JobID:       job.ID,
			Fingerprint: fp,
			Script:      script,
			Params:      validated,
			Format:      format,
		}
		if err := s.router.Dispatch(ctx, payload); err != nil {
			s.tracker.Fail(ctx, job.ID, fp, err)
			return nil, err
		}
		if err := s.tracker.MarkQueued(ctx, job.ID); err != nil {
			log.Printf("Failed to mark job %s queued: %v", job.ID, err)
		}
	}

	if req.WaitMode == model.WaitAsync {
		return s.jobResponse(ctx, handle, fp)
	}

	bundle, err = s.tracker.Wait(ctx, handle, s.waitTimeout(req.TimeoutSeconds))
	if err != nil {
		if errors.Is(err, model.ErrWaitTimeout) {
			resp, jerr := s.jobResponse(ctx, handle, fp)
			if jerr != nil {
				return nil, jerr
			}
			resp.TimedOut = true
			return resp, nil
		}
		return nil, err
	}

	return &model.ModelResponse{
		JobID:       handle.JobID,
		Status:      model.JobStatusSucceeded,
		Fingerprint: fp,
		Bundle:      bundle,
	}, nil
}

// jobResponse reads the job's current state for a non-blocking reply.
func (s *ModelService) jobResponse(ctx context.Context, handle *dispatch.Handle, fp string) (*model.ModelResponse, error) {
	job, err := s.tracker.Job(ctx, handle.JobID)
	if err != nil {
		return nil, err
	}
	return &model.ModelResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Fingerprint: fp,
	}, nil
}

func (s *ModelService) waitTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = s.wait.DefaultSeconds
	}
	if s.wait.MaxSeconds > 0 && seconds > s.wait.MaxSeconds {
		seconds = s.wait.MaxSeconds
	}
	return time.Duration(seconds) * time.Second
}

// JobStatus returns the polling view of a job.
func (s *ModelService) JobStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.tracker.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Fingerprint: job.Fingerprint,
		Queue:       job.Queue,
		Format:      job.Format,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// JobResult returns the finished bundle for a succeeded job. For jobs still
// in flight the caller gets the current status with no bundle.
func (s *ModelService) JobResult(ctx context.Context, jobID string) (*model.ModelResponse, error) {
	job, err := s.tracker.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.ModelResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Fingerprint: job.Fingerprint,
	}

	if job.Status == model.JobStatusSucceeded {
		bundle, err := s.cache.Get(ctx, job.Fingerprint)
		if err != nil {
			return nil, err
		}
		resp.Bundle = bundle
		resp.Cached = bundle != nil
	}
	return resp, nil
}

const downloadURLExpiry = 15 * time.Minute

// DownloadURL returns a time-limited URL for one published bundle model.
// Only succeeded jobs whose bundle was published to object storage have one.
func (s *ModelService) DownloadURL(ctx context.Context, jobID string, format model.ModelFormat) (string, error) {
	job, err := s.tracker.Job(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusSucceeded {
		return "", fmt.Errorf("%w: job %s not succeeded", model.ErrNotPublished, jobID)
	}

	bundle, err := s.cache.Get(ctx, job.Fingerprint)
	if err != nil {
		return "", err
	}
	if bundle == nil {
		return "", fmt.Errorf("%w: bundle for %s evicted", model.ErrNotPublished, job.Fingerprint)
	}

	if format == "" {
		format = job.Format
	}
	entry := bundle.Model(format)
	if entry == nil {
		return "", fmt.Errorf("%w: bundle has no %s model", model.ErrUnsupportedFormat, format)
	}
	if entry.StorageRef == "" || s.storage == nil {
		return "", fmt.Errorf("%w: %s/%s", model.ErrNotPublished, bundle.Fingerprint, format)
	}

	return s.storage.GetSignedURL(ctx, assemble.ObjectKey(bundle, format), downloadURLExpiry)
}
