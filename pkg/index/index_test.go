package index

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_Persistence_RoundTrip(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.json")

	idx1, err := NewIndex(indexPath)
	require.NoError(t, err)

	idx1.Add("data/model.bin", "hash-123", 1024)
	idx1.Add("./readme.md", "hash-abc", 500)
	require.NoError(t, idx1.Save())

	// 模拟第二次运行程序
	idx2, err := NewIndex(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 2, idx2.Len())

	entry, exists := idx2.Get("data/model.bin")
	require.True(t, exists)
	assert.Equal(t, "hash-123", entry.Hash.String())
	assert.Equal(t, int64(1024), entry.Size)
	assert.False(t, entry.ModifiedAt.IsZero())

	assert.Equal(t, []string{"data/model.bin", "readme.md"}, idx2.Paths())
}

func TestIndex_SaveCreatesParentDir(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), ".ev", "index.json")

	idx, err := NewIndex(indexPath)
	require.NoError(t, err)
	idx.Add("train.py", "hash-1", 10)
	require.NoError(t, idx.Save())

	reloaded, err := NewIndex(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
}

func TestIndex_KeysAreCleaned(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add("data//sub/../model.bin", "h", 1)

	e, ok := idx.Get("data/model.bin")
	require.True(t, ok)
	assert.Equal(t, "data/model.bin", e.Path)

	assert.True(t, idx.Remove("./data/model.bin"))
	assert.False(t, idx.Remove("data/model.bin"))
	assert.True(t, idx.IsEmpty())
}

func TestIndex_MemorySaveIsNoop(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Add("a", "h", 1)
	assert.NoError(t, idx.Save())
}

func TestIndex_Corrupted(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(indexPath, []byte("{not json"), 0644))
	_, err := NewIndex(indexPath)
	assert.Error(t, err)
}

func TestIndex_Concurrency(t *testing.T) {
	idx, err := NewIndex(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx.Add("file", "hash", 1)
			_ = idx.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, idx.Len())
	require.NoError(t, idx.Save())
}
