package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService is a fail-open read-through cache: a broken backend degrades to
// a miss and never fails the caller. Concurrent misses on one key share a load.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
	loads      singleflight.Group
}

const sharedLoadTimeout = 30 * time.Second

// NewCacheService constructs a cache service. A disabled service still runs loaders.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger.Named("cache"), enabled: enabled}
}

// Enabled reports whether a backend is configured and switched on.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get decodes the entry under key into dest and reports a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true
	case !errors.Is(err, appErrors.ErrCacheMiss):
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return false
}

// Set stores value under key. A non-positive ttl uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Remember serves dest from cache, or runs load once per key across concurrent
// callers, stores the result and decodes it into dest. The flag reports a hit.
// Without a backend, including on a nil service, load runs directly.
func (s *CacheService) Remember(ctx context.Context, key string, ttl time.Duration, dest interface{}, load func(ctx context.Context) (interface{}, error)) (bool, error) {
	if !s.Enabled() {
		raw, err := loadEncoded(ctx, key, load)
		if err != nil {
			return false, err
		}
		return false, decodeInto(key, raw, dest)
	}
	if s.Get(ctx, key, dest) {
		return true, nil
	}

	ch := s.loads.DoChan(key, func() (interface{}, error) {
		// The load is shared, so one caller going away must not fail the rest.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		raw, err := loadEncoded(shared, key, load)
		if err != nil {
			return nil, err
		}
		s.Set(shared, key, json.RawMessage(raw), ttl)
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		// Decoding the shared bytes gives every caller its own copy, shaped like a hit.
		return false, decodeInto(key, res.Val.([]byte), dest)
	}
}

func loadEncoded(ctx context.Context, key string, load func(ctx context.Context) (interface{}, error)) ([]byte, error) {
	value, err := load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return raw, nil
}

func decodeInto(key string, raw []byte, dest interface{}) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every key matching a glob pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
