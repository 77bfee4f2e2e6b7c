package index

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"expvault/pkg/types"
)

// Entry 代表被跟踪的一个文件
type Entry struct {
	Path       string     `json:"path"`        // 相对仓库根目录的路径 (如 "data/model.bin")
	Hash       types.Hash `json:"hash"`        // FileNode 的 Hash (Merkle Root)
	Size       int64      `json:"size"`        // 文件大小
	ModifiedAt time.Time  `json:"modified_at"` // 入库时间
}

// Index 记录跟踪集合
// 提交后不会清空：下一次提交/实验保存仍然基于同一个跟踪集合
type Index struct {
	path    string // 物理文件路径 (.ev/index.json)，为空表示纯内存
	Entries map[string]Entry `json:"entries"`
	mu      sync.RWMutex
}

// NewIndex 加载或创建一个 Index
func NewIndex(indexPath string) (*Index, error) {
	idx := NewMemoryIndex()
	idx.path = indexPath

	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("corrupted index file: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]Entry)
	}
	return idx, nil
}

// NewMemoryIndex 创建一个不落盘的 Index，Save 为空操作
func NewMemoryIndex() *Index {
	return &Index{Entries: make(map[string]Entry)}
}

// CleanPath 统一为 "/" 分隔的相对路径
func CleanPath(p string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "./")
}

func (i *Index) Add(path string, hash types.Hash, size int64) {
	key := CleanPath(path)
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries[key] = Entry{
		Path:       key,
		Hash:       hash,
		Size:       size,
		ModifiedAt: time.Now(),
	}
}

func (i *Index) Get(path string) (Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.Entries[CleanPath(path)]
	return e, ok
}

func (i *Index) Remove(path string) bool {
	key := CleanPath(path)
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.Entries[key]
	delete(i.Entries, key)
	return ok
}

// Save 原子地持久化到磁盘
func (i *Index) Save() error {
	if i.path == "" {
		return nil
	}
	i.mu.RLock()
	data, err := json.MarshalIndent(i, "", "  ")
	i.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := i.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, i.path)
}

// Snapshot 返回当前 Entry 的副本
func (i *Index) Snapshot() map[string]Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	snap := make(map[string]Entry, len(i.Entries))
	maps.Copy(snap, i.Entries)
	return snap
}

// Paths 返回排序后的全部路径
func (i *Index) Paths() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Sorted(maps.Keys(i.Entries))
}

func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Entries = make(map[string]Entry)
}

func (i *Index) IsEmpty() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.Entries) == 0
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.Entries)
}
