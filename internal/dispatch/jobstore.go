package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadforge/api/internal/model"
)

// JobStore persists job records so late pollers see terminal outcomes
// after all waiters have detached.
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, jobID string) (*model.Job, error)
}

// RedisJobStore keeps jobs as JSON under job:<id> with a retention TTL.
type RedisJobStore struct {
	redis     *redis.Client
	retention time.Duration
}

func NewRedisJobStore(redisClient *redis.Client, retention time.Duration) *RedisJobStore {
	return &RedisJobStore{redis: redisClient, retention: retention}
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("job marshal: %w", err)
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.retention).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, model.ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("job record corrupt: %w", err)
	}
	return &job, nil
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

// MemoryJobStore is the in-process fallback, also used by tests.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]model.Job)}
}

func (s *MemoryJobStore) Save(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return &job, nil
}
