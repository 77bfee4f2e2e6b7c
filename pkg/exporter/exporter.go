package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"expvault/pkg/core"
	"expvault/pkg/storage"
	"expvault/pkg/types"
)

var ErrPathNotFound = errors.New("path not found in tree")

type Exporter struct {
	store storage.Store
}

func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// ExportFile 根据 FileNode 的 Hash，将还原的文件写入 writer
func (e *Exporter) ExportFile(ctx context.Context, hash types.Hash, writer io.Writer) error {
	data, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return fmt.Errorf("failed to get filenode meta: %w", err)
	}
	fileNode, err := core.DecodeFileNode(data)
	if err != nil {
		return err
	}

	for i, chunkLink := range fileNode.Chunks {
		// 每个 Chunk 读完立即关闭，不堆积句柄
		err := func() error {
			chunkReader, err := e.store.Get(ctx, chunkLink.Cid.Hash)
			if err != nil {
				return fmt.Errorf("failed to get chunk %d: %w", i, err)
			}
			defer chunkReader.Close()

			if _, err := io.Copy(writer, chunkReader); err != nil {
				return fmt.Errorf("failed to write chunk %d data: %w", i, err)
			}
			return nil
		}()
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadCommit 读取并解码一个提交
func (e *Exporter) ReadCommit(ctx context.Context, hash types.Hash) (*core.Commit, error) {
	data, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash.Short(), err)
	}
	return core.DecodeCommit(data)
}

func (e *Exporter) readTree(ctx context.Context, hash types.Hash) (*core.Tree, error) {
	data, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", hash.Short(), err)
	}
	return core.DecodeTree(data)
}

// Lookup 在树中按 "a/b/c" 路径查找条目
func (e *Exporter) Lookup(ctx context.Context, treeHash types.Hash, relPath string) (core.TreeEntry, error) {
	relPath = strings.Trim(path.Clean(filepath.ToSlash(relPath)), "/")
	parts := strings.Split(relPath, "/")

	current := treeHash
	for i, part := range parts {
		tree, err := e.readTree(ctx, current)
		if err != nil {
			return core.TreeEntry{}, err
		}
		entry, ok := tree.Lookup(part)
		if !ok {
			return core.TreeEntry{}, fmt.Errorf("%w: %s", ErrPathNotFound, relPath)
		}
		if i == len(parts)-1 {
			return entry, nil
		}
		if entry.Type != core.EntryDir {
			return core.TreeEntry{}, fmt.Errorf("%w: %s", ErrPathNotFound, relPath)
		}
		current = entry.Cid.Hash
	}
	return core.TreeEntry{}, fmt.Errorf("%w: %s", ErrPathNotFound, relPath)
}

// ReadPath 读出树中某个文件的完整内容
func (e *Exporter) ReadPath(ctx context.Context, treeHash types.Hash, relPath string) ([]byte, error) {
	entry, err := e.Lookup(ctx, treeHash, relPath)
	if err != nil {
		return nil, err
	}
	if entry.Type != core.EntryFile {
		return nil, fmt.Errorf("%s is a directory", relPath)
	}
	var buf bytes.Buffer
	if err := e.ExportFile(ctx, entry.Cid.Hash, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WalkFunc 接收相对根树的 "/" 分隔路径
type WalkFunc func(relPath string, entry core.TreeEntry) error

// WalkFiles 深度优先按名称顺序遍历树中的所有文件
func (e *Exporter) WalkFiles(ctx context.Context, treeHash types.Hash, fn WalkFunc) error {
	return e.walk(ctx, treeHash, "", fn)
}

func (e *Exporter) walk(ctx context.Context, treeHash types.Hash, prefix string, fn WalkFunc) error {
	tree, err := e.readTree(ctx, treeHash)
	if err != nil {
		return err
	}
	for _, entry := range tree.Entries {
		rel := entry.Name
		if prefix != "" {
			rel = prefix + "/" + entry.Name
		}
		if entry.Type == core.EntryDir {
			if err := e.walk(ctx, entry.Cid.Hash, rel, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(rel, entry); err != nil {
			return err
		}
	}
	return nil
}

type RestoreCallback func(relPath string, hash types.Hash, size int64)

// RestoreTree 将 Merkle Tree 还原到目标目录
// 回调拿到的是相对 targetDir 的 "/" 分隔路径
func (e *Exporter) RestoreTree(ctx context.Context, treeHash types.Hash, targetDir string, onRestore RestoreCallback) error {
	return e.WalkFiles(ctx, treeHash, func(rel string, entry core.TreeEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		fullPath := filepath.Join(targetDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return fmt.Errorf("failed to create dir for %s: %w", rel, err)
		}
		if err := e.writeFile(ctx, entry.Cid.Hash, fullPath); err != nil {
			return err
		}
		if onRestore != nil {
			onRestore(rel, entry.Cid.Hash, entry.Size)
		}
		return nil
	})
}

// writeFile 先写临时文件再 Rename，中途失败不会留下半个文件
func (e *Exporter) writeFile(ctx context.Context, hash types.Hash, fullPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".ev-restore-*")
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer os.Remove(tmp.Name())

	if err := e.ExportFile(ctx, hash, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fullPath)
}
