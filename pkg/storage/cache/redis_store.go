package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ev:obj:"

// CachedStore 是一个装饰器，为底层 storage.Store 添加 Redis 存在性缓存
type CachedStore struct {
	backend storage.Store
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	Logger   *slog.Logger
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Fail-fast
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newCachedStore(backend, client, cfg.TTL, cfg.Logger), nil
}

func newCachedStore(backend storage.Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{backend: backend, client: client, ttl: ttl, logger: logger}
}

func (s *CachedStore) cacheKey(hash types.Hash) string {
	return keyPrefix + string(hash)
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	key := s.cacheKey(hash)

	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		// 缓存故障时退化为直查后端
		s.logger.Warn("redis exists failed, falling back to backend", "hash", hash.Short(), "error", err)
	} else if val > 0 {
		return true, nil
	}

	found, err := s.backend.Has(ctx, hash)
	if err != nil {
		return false, err
	}

	if found {
		// 异步回填，上层 ctx 取消也不影响
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.client.Set(fillCtx, key, "1", s.ttl).Err(); err != nil {
				s.logger.Debug("redis backfill failed", "hash", hash.Short(), "error", err)
			}
		}()
	}
	return found, nil
}

// Put 写穿：后端成功后才写缓存
func (s *CachedStore) Put(ctx context.Context, obj core.Object) error {
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.backend.Put(ctx, obj); err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.cacheKey(obj.ID()), "1", s.ttl).Err(); err != nil {
		s.logger.Warn("redis set failed", "hash", obj.ID().Short(), "error", err)
	}
	return nil
}

// Get 透传，Blob 数据不进缓存
func (s *CachedStore) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	return s.backend.Get(ctx, hash)
}

func (s *CachedStore) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	return s.backend.ExpandHash(ctx, short)
}

// Walk 仅在后端支持时可用
func (s *CachedStore) Walk(ctx context.Context, fn func(types.Hash) error) error {
	sw, ok := s.backend.(storage.Sweeper)
	if !ok {
		return fmt.Errorf("backend %T does not support sweeping", s.backend)
	}
	return sw.Walk(ctx, fn)
}

// Delete 先删缓存再删后端，避免缓存声称一个已被删除的对象仍然存在
func (s *CachedStore) Delete(ctx context.Context, hash types.Hash) error {
	sw, ok := s.backend.(storage.Sweeper)
	if !ok {
		return fmt.Errorf("backend %T does not support sweeping", s.backend)
	}
	if err := s.client.Del(ctx, s.cacheKey(hash)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return sw.Delete(ctx, hash)
}

func (s *CachedStore) Close() error {
	return s.client.Close()
}
