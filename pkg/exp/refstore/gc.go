package refstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"expvault/pkg/core"
	"expvault/pkg/meta"
	"expvault/pkg/storage"
	"expvault/pkg/types"
)

var ErrSweepUnsupported = errors.New("object store does not support garbage collection")

// GCStats 是一次回收的统计
type GCStats struct {
	Reachable int
	Removed   int
}

// GC 从所有引用 (HEAD、分支、实验) 以及 roots 出发标记可达对象，删除其余对象
// roots 用于保护尚未提交的对象，例如已跟踪文件的 FileNode
// 与保存并发执行时，刚写入尚未登记引用的对象可能被回收
func (s *Store) GC(ctx context.Context, roots ...types.Hash) (GCStats, error) {
	sweeper, ok := s.objects.(storage.Sweeper)
	if !ok {
		return GCStats{}, ErrSweepUnsupported
	}

	marked, err := s.mark(ctx, roots)
	if err != nil {
		return GCStats{}, err
	}

	stats := GCStats{Reachable: len(marked)}
	var garbage []types.Hash
	err = sweeper.Walk(ctx, func(h types.Hash) error {
		if _, ok := marked[h]; !ok {
			garbage = append(garbage, h)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk objects: %w", err)
	}
	for _, h := range garbage {
		if err := sweeper.Delete(ctx, h); err != nil {
			return stats, fmt.Errorf("delete %s: %w", h.Short(), err)
		}
		stats.Removed++
	}
	s.logger.Info("gc finished", "reachable", stats.Reachable, "removed", stats.Removed)
	return stats, nil
}

func (s *Store) mark(ctx context.Context, roots []types.Hash) (map[types.Hash]struct{}, error) {
	marked := make(map[types.Hash]struct{})
	stack := slices.Clone(roots)

	q := meta.RefQuery{Limit: s.pageSize}
	for {
		page, err := s.repo.ListRefs(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			stack = append(stack, types.Hash(r.CommitHash))
		}
		if len(page) < q.Limit {
			break
		}
		last := page[len(page)-1]
		q.After = &meta.RefCursor{CreatedNano: last.CreatedNano, Name: last.Name}
	}

	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := marked[h]; seen {
			continue
		}
		marked[h] = struct{}{}

		children, leaves, err := s.children(ctx, h)
		if err != nil {
			return nil, err
		}
		stack = append(stack, children...)
		for _, l := range leaves {
			marked[l] = struct{}{}
		}
	}
	return marked, nil
}

// children 返回对象直接引用的子对象，Chunk 作为叶子单独返回，不再读取
func (s *Store) children(ctx context.Context, h types.Hash) (children, leaves []types.Hash, err error) {
	data, err := storage.ReadAll(ctx, s.objects, h)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("gc: referenced object missing", "hash", h.Short())
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	typ, ok := core.PeekType(data)
	if !ok {
		return nil, nil, nil
	}
	switch typ {
	case core.TypeCommit:
		c, err := core.DecodeCommit(data)
		if err != nil {
			return nil, nil, err
		}
		children = append([]types.Hash{c.TreeCid.Hash}, c.ParentHashes()...)
		if c.Manifest != nil {
			children = append(children, c.Manifest.Hash)
		}
	case core.TypeTree:
		t, err := core.DecodeTree(data)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range t.Entries {
			children = append(children, e.Cid.Hash)
		}
	case core.TypeFileNode:
		fn, err := core.DecodeFileNode(data)
		if err != nil {
			return nil, nil, err
		}
		for _, c := range fn.Chunks {
			leaves = append(leaves, c.Cid.Hash)
		}
	}
	return children, leaves, nil
}
