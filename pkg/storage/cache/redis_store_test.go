package cache

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SpyStore 统计底层方法被调用的次数，验证请求是否穿透了缓存
type SpyStore struct {
	hasCount int32
	putCount int32
	mu       sync.Mutex
	objects  map[types.Hash][]byte
}

func NewSpyStore() *SpyStore {
	return &SpyStore{objects: make(map[types.Hash][]byte)}
}

func (s *SpyStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	atomic.AddInt32(&s.hasCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[hash]
	return ok, nil
}

func (s *SpyStore) Put(ctx context.Context, obj core.Object) error {
	atomic.AddInt32(&s.putCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID()] = obj.Bytes()
	return nil
}

func (s *SpyStore) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

func (s *SpyStore) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	return "", storage.ErrNotFound
}

func (s *SpyStore) Walk(ctx context.Context, fn func(types.Hash) error) error {
	s.mu.Lock()
	hashes := make([]types.Hash, 0, len(s.objects))
	for h := range s.objects {
		hashes = append(hashes, h)
	}
	s.mu.Unlock()
	for _, h := range hashes {
		if err := fn(h); err != nil {
			return err
		}
	}
	return nil
}

func (s *SpyStore) Delete(ctx context.Context, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, hash)
	return nil
}

// readOnlyStore 不实现 storage.Sweeper
type readOnlyStore struct{ *SpyStore }

func (readOnlyStore) Walk() {}

type mockObject struct {
	id types.Hash
}

func (m mockObject) ID() types.Hash        { return m.id }
func (m mockObject) Bytes() []byte         { return []byte("fake data") }
func (m mockObject) Type() core.ObjectType { return core.TypeChunk }

func newTestStore(t *testing.T, backend storage.Store) *CachedStore {
	t.Helper()
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	store, err := NewCachedStore(backend, Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	store.client.FlushDB(context.Background())
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewCachedStore_InvalidURL(t *testing.T) {
	_, err := NewCachedStore(NewSpyStore(), Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
}

func TestCachedStore_Integration(t *testing.T) {
	ctx := context.Background()
	spy := NewSpyStore()
	cachedStore := newTestStore(t, spy)

	hash := types.Hash("1111222233334444555566667777888899990000aaaabbbbccccddddeeeeffff")
	obj := mockObject{id: hash}

	// 1. Cache Miss
	exists, err := cachedStore.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.hasCount), "Backend Has() should be called on miss")

	// 2. Put (Write-Through)
	require.NoError(t, cachedStore.Put(ctx, obj))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.putCount))

	redisVal, err := cachedStore.client.Exists(ctx, cachedStore.cacheKey(hash)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), redisVal, "Redis key should be set after Put")

	// 3. Cache Hit: Put 内部的 Has 穿透了一次，之后不再穿透
	exists, err = cachedStore.Has(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spy.hasCount), "Backend Has() should NOT be called on hit")

	// 4. Delete 同时清除缓存
	require.NoError(t, cachedStore.Delete(ctx, hash))
	exists, err = cachedStore.Has(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCachedStore_SweepRequiresSweeper(t *testing.T) {
	cachedStore := newTestStore(t, readOnlyStore{NewSpyStore()})
	err := cachedStore.Walk(context.Background(), func(types.Hash) error { return nil })
	assert.Error(t, err)
}
