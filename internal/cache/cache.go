// Package cache is the fingerprint-keyed result cache. Entries are
// write-once: a fingerprint collision means identical inputs, so the first
// stored bundle wins and later puts are no-ops. A miss is never an error;
// it only means "not yet computed".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadforge/api/internal/model"
)

// Store maps fingerprints to component bundles.
type Store interface {
	// Get returns the bundle for a fingerprint, or nil on a miss.
	Get(ctx context.Context, fingerprint string) (*model.ComponentBundle, error)
	// Put stores a bundle unless the fingerprint already has one.
	Put(ctx context.Context, fingerprint string, bundle *model.ComponentBundle) error
}

// RedisStore keeps cache entries as JSON under cache:<fingerprint>.
// Eviction is TTL-based; ttl 0 keeps entries until Redis evicts them.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*model.ComponentBundle, error) {
	data, err := s.redis.Get(ctx, cacheKey(fingerprint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var bundle model.ComponentBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("cache entry corrupt: %w", err)
	}
	return &bundle, nil
}

func (s *RedisStore) Put(ctx context.Context, fingerprint string, bundle *model.ComponentBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	// SetNX keeps write-once semantics under concurrent workers
	if err := s.redis.SetNX(ctx, cacheKey(fingerprint), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func cacheKey(fingerprint string) string {
	return "cache:" + fingerprint
}
