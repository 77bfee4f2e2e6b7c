// Package promote 把实验引用物化为主版本图上的普通分支
package promote

import (
	"context"
	"errors"

	"expvault/pkg/exp/experr"
	"expvault/pkg/exp/naming"
	"expvault/pkg/exp/refstore"
	"expvault/pkg/refs"
	"expvault/pkg/types"
)

// BranchRef 是新建的分支
type BranchRef struct {
	Name    string
	RefName string
	Commit  types.Hash
}

type Promoter struct {
	exps     *refstore.Store
	branches *refs.Manager
}

func NewPromoter(exps *refstore.Store, branches *refs.Manager) *Promoter {
	return &Promoter{exps: exps, branches: branches}
}

// Promote 创建指向实验提交的分支，分支已存在时不做任何修改
func (p *Promoter) Promote(ctx context.Context, baseline types.Hash, refOrName, branch string) (BranchRef, error) {
	if err := naming.ValidateBranch(branch); err != nil {
		return BranchRef{}, err
	}

	// 每次都重新解析，实验可能已被删除
	exp, _, err := p.exps.Resolve(ctx, baseline, refOrName)
	if err != nil {
		return BranchRef{}, err
	}

	if err := p.branches.CreateBranch(ctx, branch, exp.Ref); err != nil {
		if errors.Is(err, refs.ErrBranchExists) {
			return BranchRef{}, experr.BranchExists(branch)
		}
		return BranchRef{}, err
	}
	return BranchRef{Name: branch, RefName: refs.BranchRefName(branch), Commit: exp.Ref}, nil
}
