package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"expvault/pkg/core"
	"expvault/pkg/exp/experr"
	"expvault/pkg/exporter"
	"expvault/pkg/ignore"
	"expvault/pkg/index"
	"expvault/pkg/ingester"
	"expvault/pkg/lockfile"
	"expvault/pkg/storage/disk"
	"expvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workspace struct {
	root    string
	store   *disk.Adapter
	idx     *index.Index
	builder *Builder
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// newWorkspace: train.py 被跟踪，data/ 与 model.bin 由锁文件记录
func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "train.py", "print('train')\n")
	writeFile(t, root, "data/raw.csv", "a,b\n1,2\n")
	writeFile(t, root, "model.bin", "weights")
	writeFile(t, root, "notes.txt", "untracked")
	writeFile(t, root, "scratch/tmp.log", "ignored")
	writeFile(t, root, ignore.FileName, "scratch/\n")

	l := lockfile.New()
	require.NoError(t, l.AddStage("train", "python train.py", []string{"train.py", "data"}, []string{"model.bin"}))
	require.NoError(t, l.Update(root))
	require.NoError(t, l.Save(filepath.Join(root, lockfile.FileName)))

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	matcher, err := ignore.NewMatcher(root)
	require.NoError(t, err)

	idx := index.NewMemoryIndex()
	idx.Add("train.py", "", 0)

	b := NewBuilder(root, store, ingester.NewIngester(store), lockfile.NewDetector(root), idx,
		WithIgnore(matcher), WithParallelism(2))
	return &workspace{root: root, store: store, idx: idx, builder: b}
}

func (w *workspace) objectCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, w.store.Walk(context.Background(), func(types.Hash) error {
		n++
		return nil
	}))
	return n
}

func (w *workspace) treeFiles(t *testing.T, tree types.Hash) map[string]string {
	t.Helper()
	ctx := context.Background()
	exp := exporter.NewExporter(w.store)
	files := map[string]string{}
	require.NoError(t, exp.WalkFiles(ctx, tree, func(rel string, _ core.TreeEntry) error {
		data, err := exp.ReadPath(ctx, tree, rel)
		if err != nil {
			return err
		}
		files[rel] = string(data)
		return nil
	}))
	return files
}

func TestBuild_Clean(t *testing.T) {
	w := newWorkspace(t)

	snap, err := w.builder.Build(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, snap.Forced)
	assert.Empty(t, snap.Manifest.StalePaths())
	assert.Len(t, snap.Manifest.Entries, 3)

	files := w.treeFiles(t, snap.TreeHash)
	assert.Equal(t, "print('train')\n", files["train.py"])
	assert.Equal(t, "a,b\n1,2\n", files["data/raw.csv"])
	assert.Equal(t, "weights", files["model.bin"])
	assert.Contains(t, files, lockfile.FileName)
	assert.NotContains(t, files, "notes.txt", "未跟踪文件默认不进入快照")
	assert.Equal(t, len(files), snap.Files)

	has, err := w.store.Has(context.Background(), snap.Manifest.ID())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestBuild_Deterministic(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	s1, err := w.builder.Build(ctx, Options{})
	require.NoError(t, err)
	s2, err := w.builder.Build(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, s1.TreeHash, s2.TreeHash)
	assert.Equal(t, s1.Manifest.ID(), s2.Manifest.ID())
}

func TestBuild_StaleFailsBeforeWriting(t *testing.T) {
	w := newWorkspace(t)
	writeFile(t, w.root, "data/raw.csv", "a,b\n9,9\n")

	before := w.objectCount(t)
	_, err := w.builder.Build(context.Background(), Options{})
	require.ErrorIs(t, err, experr.ErrStaleDependency)
	assert.Equal(t, []string{"data"}, experr.Paths(err))
	assert.Equal(t, before, w.objectCount(t), "过期检查失败时不能写入任何对象")
}

func TestBuild_Force(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(w.root, "model.bin")))

	snap, err := w.builder.Build(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"model.bin"}, snap.Forced)
	assert.Equal(t, []string{"model.bin"}, snap.Manifest.StalePaths())
	assert.NotContains(t, w.treeFiles(t, snap.TreeHash), "model.bin")
}

func TestBuild_IncludeUntracked(t *testing.T) {
	w := newWorkspace(t)

	snap, err := w.builder.Build(context.Background(), Options{IncludeUntracked: true})
	require.NoError(t, err)
	files := w.treeFiles(t, snap.TreeHash)
	assert.Equal(t, "untracked", files["notes.txt"])
	assert.Contains(t, files, ignore.FileName)
	assert.NotContains(t, files, "scratch/tmp.log", ".evignore 中的目录被跳过")
}

func TestBuild_TrackedFileDeleted(t *testing.T) {
	w := newWorkspace(t)
	w.idx.Add("gone.py", "", 0)

	snap, err := w.builder.Build(context.Background(), Options{})
	require.NoError(t, err)
	assert.NotContains(t, w.treeFiles(t, snap.TreeHash), "gone.py")
}
