package lockfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"expvault/pkg/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// setupPipeline 创建 prepare/train 两个 stage 并记录哈希
func setupPipeline(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "data/raw.csv", "a,b\n1,2\n")
	writeFile(t, root, "src/train.py", "print('train')\n")
	writeFile(t, root, "model.bin", "weights-v1")

	l := New()
	require.NoError(t, l.AddStage("prepare", "python prep.py", []string{"data/raw.csv"}, []string{"data"}))
	require.NoError(t, l.AddStage("train", "python src/train.py", []string{"./src/train.py", "data"}, []string{"model.bin"}))
	require.NoError(t, l.Update(root))
	require.NoError(t, l.Save(filepath.Join(root, FileName)))
	return root
}

func TestLock_SaveLoad(t *testing.T) {
	root := setupPipeline(t)

	l, err := Load(filepath.Join(root, FileName))
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare", "train"}, l.StageNames())

	train := l.Stages["train"]
	require.Len(t, train.Deps, 2)
	assert.Equal(t, "src/train.py", train.Deps[0].Path, "路径应被规范化")
	assert.True(t, train.Deps[0].Hash.IsValid())
	assert.Equal(t, "python src/train.py", train.Cmd)
}

func TestLoad_Missing(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Empty(t, l.Stages)
}

func TestLoad_RejectsPathsOutsideWorkspace(t *testing.T) {
	tests := []struct {
		name string
		lock string
	}{
		{"parent dep", "schema: \"1.0\"\nstages:\n  train:\n    cmd: python train.py\n    deps:\n      - path: ../outside\n"},
		{"absolute out", "schema: \"1.0\"\nstages:\n  train:\n    cmd: python train.py\n    outs:\n      - path: /etc/passwd\n"},
		{"empty path", "schema: \"1.0\"\nstages:\n  train:\n    cmd: python train.py\n    deps:\n      - path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.lock), 0644))

			_, err := Load(path)
			require.ErrorIs(t, err, ErrInvalidPath)
			assert.Contains(t, err.Error(), "stage train")
		})
	}
}

func TestLoad_NormalizesPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	lock := "schema: \"1.0\"\nstages:\n  train:\n    cmd: python train.py\n    deps:\n      - path: ./src//train.py\n"
	require.NoError(t, os.WriteFile(path, []byte(lock), 0644))

	l, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "src/train.py", l.Stages["train"].Deps[0].Path)
}

func TestAddStage_Validation(t *testing.T) {
	l := New()
	assert.Error(t, l.AddStage("", "cmd", nil, nil))
	assert.Error(t, l.AddStage("bad name", "cmd", nil, nil))
	assert.ErrorIs(t, l.AddStage("s", "cmd", []string{"../outside"}, nil), ErrInvalidPath)
	assert.ErrorIs(t, l.AddStage("s", "cmd", []string{"/abs/path"}, nil), ErrInvalidPath)

	assert.ErrorIs(t, l.Update(t.TempDir(), "missing"), ErrStageNotFound)
}

func TestHashPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dir/a.txt", "A")
	writeFile(t, root, "dir/sub/b.txt", "B")

	h1, err := HashPath(filepath.Join(root, "dir"))
	require.NoError(t, err)
	assert.True(t, h1.IsValid())

	// 内容不变，哈希稳定
	h2, err := HashPath(filepath.Join(root, "dir"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// 改名也算变化
	require.NoError(t, os.Rename(filepath.Join(root, "dir/a.txt"), filepath.Join(root, "dir/c.txt")))
	h3, err := HashPath(filepath.Join(root, "dir"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	missing, err := HashPath(filepath.Join(root, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDetector_Check(t *testing.T) {
	ctx := context.Background()
	root := setupPipeline(t)
	d := NewDetector(root)

	deps, err := d.Dependencies(ctx)
	require.NoError(t, err)
	require.Len(t, deps, 5)

	report, err := d.Check(ctx, deps)
	require.NoError(t, err)
	assert.Empty(t, report.StalePaths(), "刚记录完不应有过期项")

	t.Run("modified dependency", func(t *testing.T) {
		writeFile(t, root, "data/raw.csv", "a,b\n1,3\n")
		report, err := d.Check(ctx, deps)
		require.NoError(t, err)

		stale := report.Stale()
		assert.True(t, stale["data/raw.csv"])
		assert.True(t, stale["data"], "目录内文件变化，目录也过期")
		assert.False(t, stale["model.bin"])
		assert.Equal(t, []string{"data", "data/raw.csv"}, report.StalePaths())
	})

	t.Run("deleted output", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(root, "model.bin")))
		report, err := d.Check(ctx, deps)
		require.NoError(t, err)
		assert.True(t, report.Stale()["model.bin"])

		var found bool
		for _, e := range report.ManifestEntries() {
			if e.Path == "model.bin" {
				found = true
				assert.Equal(t, core.KindOut, e.Kind)
				assert.Equal(t, "train", e.Stage)
				assert.Empty(t, e.Current)
				assert.True(t, e.Stale())
			}
		}
		assert.True(t, found)
	})
}

func TestDetector_NoLockfile(t *testing.T) {
	ctx := context.Background()
	d := NewDetector(t.TempDir())

	deps, err := d.Dependencies(ctx)
	require.NoError(t, err)
	assert.Empty(t, deps)

	report, err := d.Check(ctx, deps)
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestDetector_InvalidLockPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, FileName, "schema: \"1.0\"\nstages:\n  prepare:\n    cmd: python prep.py\n    deps:\n      - path: data/../../secrets\n")

	_, err := NewDetector(root).Dependencies(context.Background())
	require.ErrorIs(t, err, ErrInvalidPath)
	assert.Contains(t, err.Error(), "stage prepare")
	assert.Contains(t, err.Error(), "data/../../secrets")
}
