package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cadforge/api/internal/assemble"
	"github.com/cadforge/api/internal/cache"
	"github.com/cadforge/api/internal/client"
	"github.com/cadforge/api/internal/config"
	"github.com/cadforge/api/internal/dispatch"
	"github.com/cadforge/api/internal/library"
	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/worker"
)

const boxConfig = `{
	"engine": "cadquery",
	"description": "A parametric box",
	"defaultFormat": "step",
	"params": {
		"size": {"type": "number", "min": 1, "max": 100, "step": 1, "default": 50, "units": "mm"}
	},
	"presets": {
		"large": {"size": 90}
	}
}`

// inlineEnqueuer runs the compute synchronously in place of a broker so the
// full request path can be exercised without Redis.
type inlineEnqueuer struct {
	tracker   *dispatch.Tracker
	cache     cache.Store
	assembler *assemble.Assembler
	executor  worker.Executor
	enqueued  int
	failWith  error
}

func (e *inlineEnqueuer) Enqueue(ctx context.Context, queue, taskType string, payload []byte) error {
	if e.failWith != nil {
		return e.failWith
	}
	e.enqueued++

	var p model.ComputePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	e.tracker.MarkRunning(ctx, p.JobID)
	out, err := e.executor.Execute(ctx, &p)
	if err != nil {
		e.tracker.Fail(ctx, p.JobID, p.Fingerprint, err)
		return nil
	}
	bundle, err := e.assembler.Assemble(ctx, out, p.Script, p.Params, p.Format, p.Fingerprint)
	if err != nil {
		e.tracker.Fail(ctx, p.JobID, p.Fingerprint, err)
		return nil
	}
	e.cache.Put(ctx, p.Fingerprint, bundle)
	e.tracker.Succeed(ctx, p.JobID, p.Fingerprint, bundle)
	return nil
}

type fixture struct {
	svc      *ModelService
	enqueuer *inlineEnqueuer
	cache    *cache.MemoryStore
	tracker  *dispatch.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStorage(t, nil)
}

func newFixtureWithStorage(t *testing.T, storage client.StorageClient) *fixture {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "acme", "box", "1.0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "script.json"), []byte(boxConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := library.New(root)
	if err := lib.Load(); err != nil {
		t.Fatal(err)
	}

	cacheStore := cache.NewMemoryStore(0)
	tracker := dispatch.NewTracker(dispatch.NewMemoryJobStore())
	enq := &inlineEnqueuer{
		tracker:   tracker,
		cache:     cacheStore,
		assembler: assemble.New(storage, storage != nil),
		executor:  worker.NewMockExecutor(model.EngineCadQuery),
	}
	router := dispatch.NewRouter([]model.Engine{model.EngineCadQuery}, enq)
	svc := NewModelService(lib, cacheStore, tracker, router, storage, config.WaitConfig{DefaultSeconds: 3, MaxSeconds: 120})

	return &fixture{svc: svc, enqueuer: enq, cache: cacheStore, tracker: tracker}
}

func TestRequestModelMissThenHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &model.ModelRequest{Org: "acme", Script: "box", Params: map[string]any{"size": 40}}
	resp, err := f.svc.RequestModel(ctx, req)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if resp.Cached {
		t.Error("first request should not be a cache hit")
	}
	if resp.Status != model.JobStatusSucceeded || resp.Bundle == nil {
		t.Fatalf("expected completed bundle, got status=%s bundle=%v", resp.Status, resp.Bundle)
	}
	if resp.Bundle.Model(model.FormatSTEP) == nil {
		t.Error("bundle missing requested step model")
	}
	if f.enqueuer.enqueued != 1 {
		t.Fatalf("expected 1 dispatch, got %d", f.enqueuer.enqueued)
	}

	resp2, err := f.svc.RequestModel(ctx, req)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if !resp2.Cached {
		t.Error("second request should be served from cache")
	}
	if resp2.Fingerprint != resp.Fingerprint {
		t.Error("identical requests must share a fingerprint")
	}
	if f.enqueuer.enqueued != 1 {
		t.Errorf("cache hit must not dispatch, got %d dispatches", f.enqueuer.enqueued)
	}
}

func TestRequestModelDefaultParamsSameFingerprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	explicit, err := f.svc.RequestModel(ctx, &model.ModelRequest{
		Org: "acme", Script: "box", Params: map[string]any{"size": 50},
	})
	if err != nil {
		t.Fatal(err)
	}
	defaulted, err := f.svc.RequestModel(ctx, &model.ModelRequest{Org: "acme", Script: "box"})
	if err != nil {
		t.Fatal(err)
	}
	if explicit.Fingerprint != defaulted.Fingerprint {
		t.Error("omitted param at its default must produce the explicit fingerprint")
	}
	if !defaulted.Cached {
		t.Error("defaulted request should hit the explicit request's cache entry")
	}
}

func TestRequestModelUnknownScript(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestModel(context.Background(), &model.ModelRequest{Org: "acme", Script: "nope"})
	if !errors.Is(err, model.ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
}

func TestRequestModelUnsupportedFormat(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestModel(context.Background(), &model.ModelRequest{
		Org: "acme", Script: "box", Format: model.FormatGLTF,
	})
	if !errors.Is(err, model.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if f.enqueuer.enqueued != 0 {
		t.Error("unsupported format must be rejected before dispatch")
	}
	if f.tracker.InflightCount() != 0 {
		t.Error("unsupported format must not create a job")
	}
}

func TestRequestModelInvalidParam(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestModel(context.Background(), &model.ModelRequest{
		Org: "acme", Script: "box", Params: map[string]any{"size": 150},
	})
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if f.enqueuer.enqueued != 0 {
		t.Error("invalid params must be rejected before dispatch")
	}
}

func TestRequestModelDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.failWith = errors.New("broker down")

	_, err := f.svc.RequestModel(context.Background(), &model.ModelRequest{Org: "acme", Script: "box"})
	var derr *model.DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if f.tracker.InflightCount() != 0 {
		t.Error("failed dispatch must release the fingerprint's execution slot")
	}
}

func TestRequestModelAsyncMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RequestModel(ctx, &model.ModelRequest{
		Org: "acme", Script: "box", WaitMode: model.WaitAsync,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.JobID == "" {
		t.Fatal("async mode must return a job handle")
	}
	if resp.Bundle != nil {
		t.Error("async mode must not wait for the bundle")
	}

	// the inline enqueuer already completed the job; polling shows it
	status, err := f.svc.JobStatus(ctx, resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != model.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", status.Status)
	}

	result, err := f.svc.JobResult(ctx, resp.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Bundle == nil {
		t.Error("succeeded job result must include the bundle")
	}
}

func TestRequestModelExecutionFailureNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enqueuer.executor = &worker.MockExecutor{Engine: model.EngineCadQuery, Fail: "kernel crashed"}

	_, err := f.svc.RequestModel(ctx, &model.ModelRequest{Org: "acme", Script: "box"})
	var execErr *model.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if f.cache.Len() != 0 {
		t.Error("failures must never be cached")
	}

	// a retry after failure gets a fresh execution slot
	f.enqueuer.executor = worker.NewMockExecutor(model.EngineCadQuery)
	resp, err := f.svc.RequestModel(ctx, &model.ModelRequest{Org: "acme", Script: "box"})
	if err != nil {
		t.Fatalf("retry after failure should dispatch anew: %v", err)
	}
	if resp.Status != model.JobStatusSucceeded {
		t.Fatalf("expected retry to succeed, got %s", resp.Status)
	}
}

func TestJobStatusUnknownJob(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.JobStatus(context.Background(), "no-such-job")
	if !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestWaitTimeoutReturnsJobHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a slow enqueuer that runs the compute in the background
	slow := &slowEnqueuer{inner: f.enqueuer, delay: 200 * time.Millisecond}
	router := dispatch.NewRouter([]model.Engine{model.EngineCadQuery}, slow)
	svc := NewModelService(f.svc.library, f.cache, f.tracker, router, nil, config.WaitConfig{DefaultSeconds: 3, MaxSeconds: 120})

	if _, err := svc.RequestModel(ctx, &model.ModelRequest{Org: "acme", Script: "box"}); err != nil {
		t.Fatal(err)
	}

	slow.delay = 2 * time.Second
	short := &model.ModelRequest{
		Org: "acme", Script: "box", Params: map[string]any{"size": 77},
	}
	shortSvc := NewModelService(f.svc.library, f.cache, f.tracker, router, nil, config.WaitConfig{DefaultSeconds: 1, MaxSeconds: 1})
	resp2, err := shortSvc.RequestModel(ctx, short)
	if err != nil {
		t.Fatalf("timed-out wait should return a handle, not an error: %v", err)
	}
	if !resp2.TimedOut {
		t.Fatal("expected TimedOut response")
	}
	if resp2.JobID == "" || resp2.Bundle != nil {
		t.Error("timed-out response carries a job handle and no bundle")
	}

	// the job keeps running; polling eventually observes success
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := shortSvc.JobStatus(ctx, resp2.JobID)
		if err != nil {
			t.Fatal(err)
		}
		if status.Status == model.JobStatusSucceeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed after timeout, status=%s", status.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// slowEnqueuer defers the inner compute so blocking waits can time out.
type slowEnqueuer struct {
	inner *inlineEnqueuer
	delay time.Duration
}

func (e *slowEnqueuer) Enqueue(ctx context.Context, queue, taskType string, payload []byte) error {
	go func() {
		time.Sleep(e.delay)
		e.inner.Enqueue(context.Background(), queue, taskType, payload)
	}()
	return nil
}

// fakeStorage records uploads and signs URLs without a real backend.
type fakeStorage struct {
	uploads []string
	signed  []string
}

func (f *fakeStorage) Upload(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	io.Copy(io.Discard, body)
	f.uploads = append(f.uploads, key)
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error { return nil }

func (f *fakeStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.signed = append(f.signed, key)
	return "https://cdn.example.com/" + key + "?signed=1", nil
}

func (f *fakeStorage) GetPublicURL(key string) string { return "https://cdn.example.com/" + key }

func TestDownloadURLForPublishedBundle(t *testing.T) {
	storage := &fakeStorage{}
	f := newFixtureWithStorage(t, storage)
	ctx := context.Background()

	resp, err := f.svc.RequestModel(ctx, &model.ModelRequest{Org: "acme", Script: "box"})
	if err != nil {
		t.Fatal(err)
	}
	if len(storage.uploads) == 0 {
		t.Fatal("bundle was not published")
	}

	url, err := f.svc.DownloadURL(ctx, resp.JobID, model.FormatSTEP)
	if err != nil {
		t.Fatalf("download url failed: %v", err)
	}
	wantKey := "bundles/acme/box/1.0/" + resp.Fingerprint + ".step"
	if url != "https://cdn.example.com/"+wantKey+"?signed=1" {
		t.Errorf("unexpected url %q", url)
	}
	if len(storage.signed) != 1 || storage.signed[0] != wantKey {
		t.Errorf("signed wrong key: %v", storage.signed)
	}

	// empty format falls back to the job's requested format
	if _, err := f.svc.DownloadURL(ctx, resp.JobID, ""); err != nil {
		t.Errorf("default format download failed: %v", err)
	}

	// format the bundle lacks
	if _, err := f.svc.DownloadURL(ctx, resp.JobID, model.FormatGLTF); !errors.Is(err, model.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDownloadURLUnpublishedBundle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RequestModel(ctx, &model.ModelRequest{Org: "acme", Script: "box"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.DownloadURL(ctx, resp.JobID, model.FormatSTEP)
	if !errors.Is(err, model.ErrNotPublished) {
		t.Fatalf("expected ErrNotPublished without storage, got %v", err)
	}

	if _, err := f.svc.DownloadURL(ctx, "no-such-job", ""); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
