package refstore

import (
	"context"
	"errors"
	"iter"

	"expvault/pkg/exp/experr"
	"expvault/pkg/exp/naming"
	"expvault/pkg/meta"
	"expvault/pkg/types"
)

type ListOptions struct {
	Baseline types.Hash // 只列出该基线下的实验
	All      bool       // 忽略 Baseline，列出全部
}

// List 按写入时间倒序惰性枚举实验
// 同一基线下带别名的引用只出现一次，使用规范名称
// 每次迭代都从头分页读取，可重复使用；中途 break 不会多读下一页
func (s *Store) List(ctx context.Context, opts ListOptions) iter.Seq2[*Experiment, error] {
	type key struct{ baseline, ref types.Hash }
	return func(yield func(*Experiment, error) bool) {
		q := meta.RefQuery{Namespace: meta.NamespaceExps, Limit: s.pageSize}
		if !opts.All {
			if !opts.Baseline.IsValid() {
				return
			}
			q.Prefix = naming.BaselinePrefix(opts.Baseline)
		}

		seen := make(map[key]struct{})
		for {
			page, err := s.repo.ListRefs(ctx, q)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range page {
				e, ok := naming.EntryFromRef(r)
				if !ok {
					continue
				}
				k := key{e.Baseline, e.Ref}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				canon, err := s.canonical(ctx, e.Baseline, e.Ref)
				switch {
				case errors.Is(err, experr.ErrReferenceNotFound):
					// 枚举期间被删除
					continue
				case err != nil:
					yield(nil, err)
					return
				case canon.Baseline == e.Baseline:
					e = canon
				}
				if !yield(fromEntry(e), nil) {
					return
				}
			}
			if len(page) < q.Limit {
				return
			}
			last := page[len(page)-1]
			q.After = &meta.RefCursor{CreatedNano: last.CreatedNano, Name: last.Name}
		}
	}
}

// Collect 读出 List 的全部结果
func Collect(seq iter.Seq2[*Experiment, error]) ([]*Experiment, error) {
	var out []*Experiment
	for exp, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}
