package treebuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"expvault/pkg/core"
	"expvault/pkg/index"
	"expvault/pkg/storage"
	"expvault/pkg/types"
)

// Source 提供要写入树的文件条目 (路径 -> 条目)
// *index.Index 满足该接口
type Source interface {
	Snapshot() map[string]index.Entry
}

// Entries 让一个普通 map 也能作为 Source
type Entries map[string]index.Entry

func (e Entries) Snapshot() map[string]index.Entry { return e }

// Builder 负责将文件条目转换为 Merkle Tree
type Builder struct {
	store storage.Store
}

func NewBuilder(store storage.Store) *Builder {
	return &Builder{store: store}
}

// Build 自底向上写入所有目录树，返回根树的 Hash
// 空集合得到空树
func (b *Builder) Build(ctx context.Context, src Source) (types.Hash, error) {
	root := newDirNode("")
	for path, entry := range src.Snapshot() {
		if err := root.addFile(index.CleanPath(path), entry); err != nil {
			return "", err
		}
	}
	return b.writeNode(ctx, root)
}

type node struct {
	name     string
	isDir    bool
	children map[string]*node // 仅目录有效
	entry    index.Entry      // 仅文件有效
}

func newDirNode(name string) *node {
	return &node{
		name:     name,
		isDir:    true,
		children: make(map[string]*node),
	}
}

// addFile 将 "a/b/c.txt" 插入内存树，沿途创建目录
func (n *node) addFile(path string, entry index.Entry) error {
	if path == "" || path == "." || strings.HasPrefix(path, "../") || path == ".." {
		return fmt.Errorf("invalid tree path %q", path)
	}
	parts := strings.Split(path, "/")
	current := n

	for _, part := range parts[:len(parts)-1] {
		child, exists := current.children[part]
		if !exists {
			child = newDirNode(part)
			current.children[part] = child
		}
		if !child.isDir {
			return fmt.Errorf("path conflict: %q is both a file and a directory", part)
		}
		current = child
	}

	fileName := parts[len(parts)-1]
	if existing, ok := current.children[fileName]; ok && existing.isDir {
		return fmt.Errorf("path conflict: %q is both a file and a directory", path)
	}
	current.children[fileName] = &node{name: fileName, entry: entry}
	return nil
}

// writeNode 递归地将内存节点转换为 core.Tree 并写入存储
func (b *Builder) writeNode(ctx context.Context, n *node) (types.Hash, error) {
	if !n.isDir {
		return n.entry.Hash, nil
	}

	childNames := make([]string, 0, len(n.children))
	for name := range n.children {
		childNames = append(childNames, name)
	}
	sort.Strings(childNames)

	entries := make([]core.TreeEntry, 0, len(childNames))
	for _, name := range childNames {
		child := n.children[name]

		childHash, err := b.writeNode(ctx, child)
		if err != nil {
			return "", err
		}

		entry := core.TreeEntry{Name: name, Type: core.EntryDir, Cid: core.NewLink(childHash)}
		if !child.isDir {
			entry.Type = core.EntryFile
			entry.Size = child.entry.Size
		}
		entries = append(entries, entry)
	}

	treeObj, err := core.NewTree(entries)
	if err != nil {
		return "", fmt.Errorf("failed to create tree object: %w", err)
	}
	if err := b.store.Put(ctx, treeObj); err != nil {
		return "", fmt.Errorf("failed to store tree: %w", err)
	}
	return treeObj.ID(), nil
}
