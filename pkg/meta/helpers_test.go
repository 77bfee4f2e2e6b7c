package meta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/types"

	"github.com/stretchr/testify/require"
)

// mockHash 生成合法的测试用 Hash
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

// setupTestRepo 每个测试一个独立的 SQLite 文件
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDB(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "meta.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

// fakeClock 每次调用前进 1ms，保证排序确定
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

func withFakeClock(repo *Repository) *fakeClock {
	c := &fakeClock{cur: time.Unix(1_700_000_000, 0)}
	repo.now = c.Now
	return c
}

func mustNewCommit(t *testing.T, treeHash types.Hash, parents []types.Hash, author, msg string, msgAndArgs ...any) *core.Commit {
	t.Helper()
	c, err := core.NewCommit(treeHash, parents, author, msg)
	require.NoError(t, err, msgAndArgs...)
	return c
}

func mustIndexCommit(t *testing.T, repo *Repository, c *core.Commit, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.IndexCommit(context.Background(), c), msgAndArgs...)
}

func mustUpdateRef(t *testing.T, repo *Repository, name string, newHash types.Hash, oldVersion int64, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.UpdateRef(context.Background(), name, newHash, oldVersion), msgAndArgs...)
}

func mustCreateRef(t *testing.T, repo *Repository, name string, hash types.Hash) {
	t.Helper()
	require.NoError(t, repo.CompareAndSwapRef(context.Background(), name, "", hash))
}
