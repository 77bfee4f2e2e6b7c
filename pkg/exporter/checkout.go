package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"expvault/pkg/index"
	"expvault/pkg/types"
)

// SyncWorkspace 让工作区与索引同时对齐到一棵树
// 还原树中的每个文件；删除之前被跟踪、但不在树中的文件；最后用树的内容重建索引
// 未被跟踪的文件不会被触碰
func (e *Exporter) SyncWorkspace(ctx context.Context, treeHash types.Hash, root string, idx *index.Index) (int, error) {
	previous := idx.Snapshot()

	restored := make(map[string]index.Entry)
	err := e.RestoreTree(ctx, treeHash, root, func(rel string, hash types.Hash, size int64) {
		restored[rel] = index.Entry{Path: rel, Hash: hash, Size: size}
	})
	if err != nil {
		return 0, fmt.Errorf("restore tree: %w", err)
	}

	for rel := range previous {
		if _, ok := restored[rel]; ok {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("remove %s: %w", rel, err)
		}
	}

	idx.Reset()
	for rel, entry := range restored {
		idx.Add(rel, entry.Hash, entry.Size)
	}
	if err := idx.Save(); err != nil {
		return 0, fmt.Errorf("failed to update index: %w", err)
	}
	return len(restored), nil
}
