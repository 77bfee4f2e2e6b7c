package exp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"expvault/pkg/core"
	"expvault/pkg/exporter"
	"expvault/pkg/ignore"
	"expvault/pkg/index"
	"expvault/pkg/ingester"
	"expvault/pkg/lockfile"
	"expvault/pkg/meta"
	"expvault/pkg/refs"
	"expvault/pkg/storage"
	"expvault/pkg/storage/disk"
	"expvault/pkg/treebuilder"
	"expvault/pkg/types"

	"github.com/stretchr/testify/require"
)

// sweepStore 是可以被 GC 的对象存储
type sweepStore interface {
	storage.Store
	storage.Sweeper
}

// shared 是多个工作区共用的仓库状态 (对象存储 + 元数据库)
type shared struct {
	objects sweepStore
	repo    *meta.Repository
	head    *refs.Manager
}

type workspace struct {
	*shared
	root string
	idx  *index.Index
	orch *Orchestrator
}

func newShared(t *testing.T) *shared {
	t.Helper()
	objects, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	return newSharedWith(t, objects)
}

func newSharedWith(t *testing.T, objects sweepStore) *shared {
	t.Helper()
	db, err := meta.NewDB(context.Background(), meta.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "meta.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := meta.NewRepository(db)
	return &shared{objects: objects, repo: repo, head: refs.NewManager(repo)}
}

// newWorkspace 创建一个带锁文件的工作区：train.py + data/raw.csv -> model.bin
func newWorkspace(t *testing.T, s *shared) *workspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".ev"), 0755))
	idx, err := index.NewIndex(filepath.Join(root, ".ev", "index.json"))
	require.NoError(t, err)
	matcher, err := ignore.NewMatcher(root)
	require.NoError(t, err)

	w := &workspace{shared: s, root: root, idx: idx}
	w.orch = New(Config{
		Root:     root,
		Objects:  s.objects,
		Repo:     s.repo,
		Head:     s.head,
		Index:    idx,
		Ingester: ingester.NewIngester(s.objects, ingester.WithFileIndex(s.repo)),
		Ignore:   matcher,
		Author:   "tester",
	})

	w.write(t, "train.py", "lr = 0.1\n")
	w.write(t, "data/raw.csv", "a,b\n1,2\n")
	w.write(t, "model.bin", "weights-v1")
	w.write(t, "metrics.json", `{"acc": 0.5}`)
	for _, p := range []string{"train.py", "metrics.json"} {
		w.track(t, p)
	}

	l := lockfile.New()
	require.NoError(t, l.AddStage("train", "python train.py", []string{"train.py", "data/raw.csv"}, []string{"model.bin"}))
	require.NoError(t, l.Save(filepath.Join(root, lockfile.FileName)))
	w.relock(t)
	return w
}

func (w *workspace) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(w.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func (w *workspace) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (w *workspace) track(t *testing.T, rel string) {
	t.Helper()
	res, err := ingester.NewIngester(w.objects).IngestPath(context.Background(), filepath.Join(w.root, rel))
	require.NoError(t, err)
	w.idx.Add(rel, res.Root, res.Size)
	require.NoError(t, w.idx.Save())
}

// relock 记录当前所有依赖/产出的哈希，相当于重新跑完一次流水线
func (w *workspace) relock(t *testing.T) {
	t.Helper()
	path := filepath.Join(w.root, lockfile.FileName)
	l, err := lockfile.Load(path)
	require.NoError(t, err)
	require.NoError(t, l.Update(w.root))
	require.NoError(t, l.Save(path))
}

// commit 在主线上提交当前索引
func (w *workspace) commit(t *testing.T) types.Hash {
	t.Helper()
	ctx := context.Background()
	h, err := w.head.AdvanceHead(ctx, func(parent types.Hash) (types.Hash, error) {
		tree, err := treebuilder.NewBuilder(w.objects).Build(ctx, w.idx)
		if err != nil {
			return "", err
		}
		var parents []types.Hash
		if !parent.IsZero() {
			parents = []types.Hash{parent}
		}
		c, err := core.NewCommit(tree, parents, "tester", "baseline")
		if err != nil {
			return "", err
		}
		return c.ID(), w.objects.Put(ctx, c)
	})
	require.NoError(t, err)
	return h
}

// treeFiles 读出提交树中的全部文件
func (w *workspace) treeFiles(t *testing.T, tree types.Hash) map[string]string {
	t.Helper()
	ctx := context.Background()
	ex := exporter.NewExporter(w.objects)
	files := map[string]string{}
	require.NoError(t, ex.WalkFiles(ctx, tree, func(rel string, _ core.TreeEntry) error {
		data, err := ex.ReadPath(ctx, tree, rel)
		files[rel] = string(data)
		return err
	}))
	return files
}

func names(t *testing.T, o *Orchestrator, all bool) []string {
	t.Helper()
	var out []string
	for e, err := range o.List(context.Background(), all) {
		require.NoError(t, err)
		out = append(out, e.Name)
	}
	return out
}
