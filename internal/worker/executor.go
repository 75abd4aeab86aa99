package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/cadforge/api/internal/client"
	"github.com/cadforge/api/internal/model"
)

// Executor runs a compute payload against a CAD engine and returns the raw
// model files the engine produced.
type Executor interface {
	Execute(ctx context.Context, payload *model.ComputePayload) (*model.RawOutput, error)
}

// EngineExecutor shells out to the engine's sidecar service.
type EngineExecutor struct {
	client *client.EngineClient
}

func NewEngineExecutor(c *client.EngineClient) *EngineExecutor {
	return &EngineExecutor{client: c}
}

func (e *EngineExecutor) Execute(ctx context.Context, payload *model.ComputePayload) (*model.RawOutput, error) {
	return e.client.Compute(ctx, payload)
}

// MockExecutor produces deterministic placeholder models without a geometry
// kernel. Used when an engine has no sidecar URL configured.
type MockExecutor struct {
	Engine model.Engine
	// Delay simulates compute time in tests
	Delay time.Duration
	// Fail forces an execution failure with the given reason
	Fail string
}

func NewMockExecutor(engine model.Engine) *MockExecutor {
	return &MockExecutor{Engine: engine}
}

func (e *MockExecutor) Execute(ctx context.Context, payload *model.ComputePayload) (*model.RawOutput, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Fail != "" {
		return nil, &model.ExecutionError{Engine: e.Engine, Reason: e.Fail}
	}

	start := time.Now()
	models := make(map[model.ModelFormat]model.RawModel)
	for _, f := range e.Engine.Formats() {
		models[f] = mockModel(f, payload)
	}

	log.Printf("Mock executor produced %d model(s) for job %s (engine=%s)",
		len(models), payload.JobID, e.Engine)

	return &model.RawOutput{
		Models:   models,
		Duration: time.Since(start).Milliseconds(),
		Messages: []string{fmt.Sprintf("mock compute for %s", payload.Script.FullID())},
	}, nil
}

func mockModel(format model.ModelFormat, payload *model.ComputePayload) model.RawModel {
	id := payload.Script.FullID()
	switch format {
	case model.FormatSTEP:
		content := fmt.Sprintf(
			"ISO-10303-21;\nHEADER;\nFILE_DESCRIPTION(('%s'),'2;1');\nENDSEC;\nDATA;\nENDSEC;\nEND-ISO-10303-21;\n",
			id)
		return model.RawModel{Content: content, Encoding: model.EncodingUTF8}
	case model.FormatGLTF:
		content := fmt.Sprintf(`{"asset":{"version":"2.0","generator":"%s"},"scenes":[{"nodes":[]}]}`, id)
		return model.RawModel{Content: content, Encoding: model.EncodingUTF8}
	case model.FormatSTL:
		raw := fmt.Sprintf("solid %s\nendsolid %s\n", id, id)
		return model.RawModel{
			Content:  base64.StdEncoding.EncodeToString([]byte(raw)),
			Encoding: model.EncodingBase64,
		}
	default:
		return model.RawModel{Content: "", Encoding: model.EncodingUTF8}
	}
}
