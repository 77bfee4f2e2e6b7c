// Package exp 协调实验的保存、查询、应用与晋升
//
// 实验保存在隐藏命名空间中，不移动 HEAD，也不出现在分支列表与 log 中。
package exp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"

	"expvault/pkg/core"
	"expvault/pkg/exp/experr"
	"expvault/pkg/exp/naming"
	"expvault/pkg/exp/promote"
	"expvault/pkg/exp/refstore"
	"expvault/pkg/exp/snapshot"
	"expvault/pkg/exporter"
	"expvault/pkg/ignore"
	"expvault/pkg/index"
	"expvault/pkg/ingester"
	"expvault/pkg/lockfile"
	"expvault/pkg/meta"
	"expvault/pkg/refs"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"github.com/google/uuid"
)

// Config 汇集编排器依赖的组件
type Config struct {
	Root     string
	Objects  storage.Store
	Repo     *meta.Repository
	Head     *refs.Manager
	Index    *index.Index
	Ingester *ingester.Ingester
	Ignore   *ignore.Matcher
	// Detector 为空时使用工作区根目录下的 ev.lock
	Detector snapshot.Detector

	Author      string
	MaxSuffix   int
	CASAttempts uint
	Logger      *slog.Logger
}

type Orchestrator struct {
	root     string
	objects  storage.Store
	head     *refs.Manager
	index    *index.Index
	store    *refstore.Store
	builder  *snapshot.Builder
	promoter *promote.Promoter
	exporter *exporter.Exporter
	author   string
	logger   *slog.Logger
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	detector := cfg.Detector
	if detector == nil {
		detector = lockfile.NewDetector(cfg.Root)
	}

	namer := naming.NewNamer(cfg.Repo, cfg.MaxSuffix)
	store := refstore.NewStore(cfg.Objects, cfg.Repo, namer,
		refstore.WithAttempts(cfg.CASAttempts),
		refstore.WithLogger(logger),
	)
	builder := snapshot.NewBuilder(cfg.Root, cfg.Objects, cfg.Ingester, detector, cfg.Index,
		snapshot.WithIgnore(cfg.Ignore),
		snapshot.WithLogger(logger),
	)

	return &Orchestrator{
		root:     cfg.Root,
		objects:  cfg.Objects,
		head:     cfg.Head,
		index:    cfg.Index,
		store:    store,
		builder:  builder,
		promoter: promote.NewPromoter(store, cfg.Head),
		exporter: exporter.NewExporter(cfg.Objects),
		author:   cfg.Author,
		logger:   logger,
	}
}

type SaveOptions struct {
	Name             string
	Force            bool
	Message          string
	Parent           string // 上一个实验，为空时以 HEAD 为父提交
	IncludeUntracked bool
}

// Save 保存当前工作区为实验并返回其引用
func (o *Orchestrator) Save(ctx context.Context, opts SaveOptions) (types.Hash, error) {
	exp, err := o.SaveExperiment(ctx, opts)
	if err != nil {
		return "", err
	}
	return exp.Ref, nil
}

// SaveExperiment 同 Save，返回完整的实验条目
// commit 之前的任何失败都不会留下可见的痕迹
func (o *Orchestrator) SaveExperiment(ctx context.Context, opts SaveOptions) (*refstore.Experiment, error) {
	log := o.logger.With("op", uuid.NewString())

	baseline, err := o.baseline(ctx)
	if err != nil {
		return nil, err
	}
	parent := baseline
	if opts.Parent != "" {
		prev, _, err := o.store.Resolve(ctx, baseline, opts.Parent)
		if err != nil {
			return nil, fmt.Errorf("resolve parent experiment: %w", err)
		}
		parent, baseline = prev.Ref, prev.Baseline
	}
	log.Debug("saving experiment", "baseline", baseline.Short(), "parent", parent.Short(), "force", opts.Force)

	snap, err := o.builder.Build(ctx, snapshot.Options{Force: opts.Force, IncludeUntracked: opts.IncludeUntracked})
	if err != nil {
		return nil, err
	}

	exp, err := o.store.Commit(ctx, snap, parent, refstore.CommitOptions{
		Name:     opts.Name,
		Force:    opts.Force,
		Author:   o.author,
		Message:  opts.Message,
		Baseline: baseline,
	})
	if err != nil {
		return nil, err
	}
	log.Info("experiment saved", "name", exp.Name, "ref", exp.Ref.Short(), "files", snap.Files)
	return exp, nil
}

func (o *Orchestrator) baseline(ctx context.Context) (types.Hash, error) {
	head, _, err := o.head.GetHead(ctx)
	if errors.Is(err, refs.ErrNoHead) {
		return "", &experr.Error{Kind: experr.ErrNoBaseline, Hint: "commit at least once before saving experiments"}
	}
	return head, err
}

// currentBaseline 没有 HEAD 时返回空值，用于只读操作
func (o *Orchestrator) currentBaseline(ctx context.Context) (types.Hash, error) {
	head, _, err := o.head.GetHead(ctx)
	if errors.Is(err, refs.ErrNoHead) {
		return "", nil
	}
	return head, err
}

// GetExactName 返回引用的规范名称
func (o *Orchestrator) GetExactName(ctx context.Context, ref types.Hash) (string, error) {
	baseline, err := o.currentBaseline(ctx)
	if err != nil {
		return "", err
	}
	return o.store.ExactName(ctx, baseline, ref)
}

// List 默认只列出当前 HEAD 下的实验，all 为真时列出全部
func (o *Orchestrator) List(ctx context.Context, all bool) iter.Seq2[*refstore.Experiment, error] {
	baseline, err := o.currentBaseline(ctx)
	if err != nil {
		return func(yield func(*refstore.Experiment, error) bool) { yield(nil, err) }
	}
	return o.store.List(ctx, refstore.ListOptions{Baseline: baseline, All: all})
}

// Forced 返回 exps 中强制保存过的实验及其过期路径，按基线批量查询
func (o *Orchestrator) Forced(ctx context.Context, exps []*refstore.Experiment) (map[types.Hash][]string, error) {
	out := make(map[types.Hash][]string)
	queried := make(map[types.Hash]bool)
	for _, e := range exps {
		if queried[e.Baseline] {
			continue
		}
		queried[e.Baseline] = true
		forced, err := o.store.Forced(ctx, e.Baseline)
		if err != nil {
			return nil, err
		}
		maps.Copy(out, forced)
	}
	return out, nil
}

// Details 是 Show 的结果
type Details struct {
	*refstore.Experiment
	Commit   *core.Commit
	Manifest *core.Manifest
}

func (o *Orchestrator) Show(ctx context.Context, refOrName string) (*Details, error) {
	exp, commit, err := o.resolve(ctx, refOrName)
	if err != nil {
		return nil, err
	}
	d := &Details{Experiment: exp, Commit: commit}
	if commit.Manifest != nil {
		data, err := storage.ReadAll(ctx, o.objects, commit.Manifest.Hash)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		if d.Manifest, err = core.DecodeManifest(data); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (o *Orchestrator) resolve(ctx context.Context, refOrName string) (*refstore.Experiment, *core.Commit, error) {
	baseline, err := o.currentBaseline(ctx)
	if err != nil {
		return nil, nil, err
	}
	return o.store.Resolve(ctx, baseline, refOrName)
}

// Promote 把实验晋升为分支
func (o *Orchestrator) Promote(ctx context.Context, refOrName, branch string) (promote.BranchRef, error) {
	baseline, err := o.currentBaseline(ctx)
	if err != nil {
		return promote.BranchRef{}, err
	}
	return o.promoter.Promote(ctx, baseline, refOrName, branch)
}

// Remove 先全部解析成功再逐个删除，任何一个解析失败都不会删除
func (o *Orchestrator) Remove(ctx context.Context, refsOrNames ...string) ([]*refstore.Experiment, error) {
	exps := make([]*refstore.Experiment, 0, len(refsOrNames))
	for _, s := range refsOrNames {
		exp, _, err := o.resolve(ctx, s)
		if err != nil {
			return nil, err
		}
		exps = append(exps, exp)
	}
	for i, exp := range exps {
		if err := o.store.Remove(ctx, exp); err != nil {
			return exps[:i], err
		}
	}
	return exps, nil
}

// Apply 把实验的完整树还原到工作区并重建索引，HEAD 不动
func (o *Orchestrator) Apply(ctx context.Context, refOrName string) (*refstore.Experiment, int, error) {
	exp, commit, err := o.resolve(ctx, refOrName)
	if err != nil {
		return nil, 0, err
	}
	n, err := o.exporter.SyncWorkspace(ctx, commit.TreeCid.Hash, o.root, o.index)
	if err != nil {
		return nil, 0, err
	}
	o.logger.Info("experiment applied", "name", exp.Name, "files", n)
	return exp, n, nil
}

// GC 回收不可达对象，已跟踪但尚未提交的文件同样视为可达
func (o *Orchestrator) GC(ctx context.Context) (refstore.GCStats, error) {
	var staged []types.Hash
	for _, e := range o.index.Snapshot() {
		staged = append(staged, e.Hash)
	}
	return o.store.GC(ctx, staged...)
}
