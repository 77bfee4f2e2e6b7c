package refstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/exp/naming"
	"expvault/pkg/exp/snapshot"
	"expvault/pkg/index"
	"expvault/pkg/ingester"
	"expvault/pkg/meta"
	"expvault/pkg/storage/disk"
	"expvault/pkg/treebuilder"
	"expvault/pkg/types"

	"github.com/stretchr/testify/require"
)

func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

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

type env struct {
	objects *disk.Adapter
	repo    *meta.Repository
	store   *Store
}

func setupEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	return setupEnvWith(t, nil, opts...)
}

// setupEnvWith 允许用 wrap 包装 Store 看到的元数据仓库，namer 仍使用原仓库
func setupEnvWith(t *testing.T, wrap func(*meta.Repository) RefRepository, opts ...Option) *env {
	t.Helper()
	objects, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	db, err := meta.NewDB(context.Background(), meta.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "meta.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := meta.NewRepository(db)
	repo.SetClock((&fakeClock{cur: time.Unix(1_700_000_000, 0)}).Now)

	var storeRepo RefRepository = repo
	if wrap != nil {
		storeRepo = wrap(repo)
	}
	namer := naming.NewNamer(repo, naming.DefaultMaxSuffix)
	return &env{objects: objects, repo: repo, store: NewStore(objects, storeRepo, namer, opts...)}
}

// snap 把一组文件写成快照 (树 + 空清单)
func (e *env) snap(t *testing.T, files map[string]string) *snapshot.Snapshot {
	t.Helper()
	ctx := context.Background()
	ing := ingester.NewIngester(e.objects)

	entries := treebuilder.Entries{}
	for p, content := range files {
		node, err := ing.IngestFile(ctx, bytes.NewReader([]byte(content)))
		require.NoError(t, err)
		entries[p] = index.Entry{Path: p, Hash: node.ID(), Size: node.TotalSize}
	}
	tree, err := treebuilder.NewBuilder(e.objects).Build(ctx, entries)
	require.NoError(t, err)

	manifest, err := core.NewManifest(nil)
	require.NoError(t, err)
	require.NoError(t, e.objects.Put(ctx, manifest))
	return &snapshot.Snapshot{TreeHash: tree, Manifest: manifest, Files: len(files)}
}

// baseline 写入一个主线提交作为基线
func (e *env) baseline(t *testing.T) types.Hash {
	t.Helper()
	ctx := context.Background()
	s := e.snap(t, map[string]string{"README": "base"})
	c, err := core.NewCommit(s.TreeHash, nil, "tester", "init")
	require.NoError(t, err)
	require.NoError(t, e.objects.Put(ctx, c))
	require.NoError(t, e.repo.UpdateRef(ctx, "HEAD", c.ID(), 0))
	return c.ID()
}
