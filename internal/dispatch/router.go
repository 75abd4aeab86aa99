package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cadforge/api/internal/model"
)

// TaskType returns the asynq task type for an engine's compute tasks.
func TaskType(engine model.Engine) string {
	return "model:compute:" + string(engine)
}

// Enqueuer is the broker handoff. At-least-once; no retries here. A
// failed handoff surfaces as a DispatchError and the job is marked failed.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, taskType string, payload []byte) error
}

// AsynqEnqueuer hands tasks to the shared Redis broker.
type AsynqEnqueuer struct {
	client    *asynq.Client
	retention time.Duration
}

func NewAsynqEnqueuer(client *asynq.Client, retention time.Duration) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, retention: retention}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, queue, taskType string, payload []byte) error {
	task := asynq.NewTask(taskType, payload)
	_, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Retention(e.retention),
	)
	return err
}

// Router maps a script's declared engine to its queue and performs the
// broker handoff. Each enabled engine has exactly one logical queue.
type Router struct {
	queues map[model.Engine]string
	enq    Enqueuer
}

func NewRouter(enabled []model.Engine, enq Enqueuer) *Router {
	queues := make(map[model.Engine]string, len(enabled))
	for _, e := range enabled {
		queues[e] = string(e)
	}
	return &Router{queues: queues, enq: enq}
}

// Route returns the queue name for an engine, or ErrUnsupportedEngine when
// the engine is unknown or disabled by configuration.
func (r *Router) Route(engine model.Engine) (string, error) {
	queue, ok := r.queues[engine]
	if !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnsupportedEngine, engine)
	}
	return queue, nil
}

// Dispatch enqueues a compute payload onto the engine's queue. Broker
// failures come back wrapped as a DispatchError.
func (r *Router) Dispatch(ctx context.Context, payload *model.ComputePayload) error {
	engine := payload.Script.Engine
	queue, err := r.Route(engine)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload marshal: %w", err)
	}

	if err := r.enq.Enqueue(ctx, queue, TaskType(engine), data); err != nil {
		return &model.DispatchError{Queue: queue, Err: err}
	}
	return nil
}

// Enabled reports whether an engine is routable.
func (r *Router) Enabled(engine model.Engine) bool {
	_, ok := r.queues[engine]
	return ok
}
