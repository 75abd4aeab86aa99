package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/cadforge/api/internal/assemble"
	"github.com/cadforge/api/internal/cache"
	"github.com/cadforge/api/internal/config"
	"github.com/cadforge/api/internal/dispatch"
	"github.com/cadforge/api/internal/handler"
	"github.com/cadforge/api/internal/library"
	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/service"
	"github.com/cadforge/api/internal/worker"
	ws "github.com/cadforge/api/internal/websocket"
)

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	enqueuer *syncEnqueuer
	cache    *cache.MemoryStore
	library  *library.Library
}

// syncEnqueuer replaces the broker with an in-process worker call so the
// whole request path runs inside app.Test without Redis.
type syncEnqueuer struct {
	workers  map[string]*worker.ScriptWorker
	enqueued int
}

func (e *syncEnqueuer) Enqueue(ctx context.Context, queue, taskType string, payload []byte) error {
	w, ok := e.workers[taskType]
	if !ok {
		return nil
	}
	e.enqueued++
	return w.ProcessTask(ctx, asynq.NewTask(taskType, payload))
}

const boxConfig = `{
	"engine": "cadquery",
	"description": "A parametric storage box",
	"author": "acme",
	"license": "CC_BY",
	"defaultFormat": "step",
	"params": {
		"size": {"type": "number", "min": 1, "max": 100, "step": 1, "default": 50, "units": "mm"},
		"lid": {"type": "boolean", "default": false}
	},
	"presets": {
		"large": {"size": 90}
	}
}`

const vaseConfig = `{
	"engine": "archiyou",
	"description": "A twisted vase",
	"defaultFormat": "gltf",
	"params": {
		"height": {"type": "number", "min": 10, "max": 500, "default": 120, "units": "mm"}
	}
}`

// setupApp creates a Fiber app wired like main.go but with in-memory stores
// and a synchronous worker in place of the broker.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	root := t.TempDir()
	writeScript(t, root, "acme", "box", "1.0", boxConfig)
	writeScript(t, root, "studio", "vase", "2.1", vaseConfig)

	lib := library.New(root)
	if err := lib.Load(); err != nil {
		t.Fatalf("failed to load test library: %v", err)
	}

	validate := validator.New()
	hub := ws.NewHub()
	go hub.Run()

	cacheStore := cache.NewMemoryStore(0)
	tracker := dispatch.NewTracker(dispatch.NewMemoryJobStore())
	assembler := assemble.New(nil, false)

	enabled := []model.Engine{model.EngineCadQuery, model.EngineArchiyou}
	enq := &syncEnqueuer{workers: make(map[string]*worker.ScriptWorker)}
	for _, engine := range enabled {
		w := worker.NewScriptWorker(engine, worker.NewMockExecutor(engine), tracker, assembler, cacheStore, hub)
		enq.workers[dispatch.TaskType(engine)] = w
	}
	router := dispatch.NewRouter(enabled, enq)

	modelService := service.NewModelService(lib, cacheStore, tracker, router, nil, config.WaitConfig{DefaultSeconds: 3, MaxSeconds: 120})

	modelHandler := handler.NewModelHandler(modelService, validate)
	jobHandler := handler.NewJobHandler(modelService)
	libraryHandler := handler.NewLibraryHandler(lib)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"scripts": lib.Count(),
		})
	})

	api := app.Group("/api")

	libGroup := api.Group("/library")
	libGroup.Get("/", libraryHandler.List)
	libGroup.Get("/search", libraryHandler.Search)
	libGroup.Post("/reload", libraryHandler.Reload)
	libGroup.Get("/:org/:script", libraryHandler.Get)

	models := api.Group("/models")
	models.Post("/:org/:script", modelHandler.Request)
	models.Post("/:org/:script/:version", modelHandler.RequestVersion)

	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)

	return &testApp{app: app, enqueuer: enq, cache: cacheStore, library: lib}
}

func writeScript(t *testing.T, root, org, name, version, cfg string) {
	t.Helper()
	dir := filepath.Join(root, org, name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "script.json"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	code := "# " + name + "\n"
	if err := os.WriteFile(filepath.Join(dir, name+".py"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts the error code from an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	result := parseJSON(t, resp)
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}
