// Package refstore 管理隐藏命名空间 refs/exps/* 中的实验引用
//
// 引用即快照提交的 Hash：对象先写入对象存储，再以 CAS 方式写入引用，
// 读者永远不会看到指向未写完对象的引用。
package refstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/exp/experr"
	"expvault/pkg/exp/naming"
	"expvault/pkg/exp/snapshot"
	"expvault/pkg/meta"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"github.com/avast/retry-go/v4"
)

const (
	defaultAttempts = 5
	defaultPageSize = 64
	retryInterval   = 10 * time.Millisecond
	defaultMessage  = "experiment snapshot"
)

// Experiment 是一条已登记的实验引用
type Experiment struct {
	Name      string
	Ref       types.Hash // 快照提交的 Hash
	Baseline  types.Hash // 保存时的 HEAD
	Parent    types.Hash // 直接父提交：基线或上一个实验，仅 Resolve 时填充
	RefName   string
	CreatedAt time.Time
}

func fromEntry(e naming.Entry) *Experiment {
	return &Experiment{
		Name:      e.Name,
		Ref:       e.Ref,
		Baseline:  e.Baseline,
		RefName:   e.RefName,
		CreatedAt: e.CreatedAt,
	}
}

type CommitOptions struct {
	Name    string // 为空时自动生成
	Force   bool   // 同名实验指向其他引用时覆盖
	Author  string
	Message string
	// Baseline 为空时取 parent，链式实验沿用上一个实验的基线
	Baseline types.Hash
}

// RefRepository 是 Store 依赖的元数据操作，由 *meta.Repository 实现
type RefRepository interface {
	GetRef(ctx context.Context, name string) (*meta.Ref, error)
	ListRefs(ctx context.Context, q meta.RefQuery) ([]meta.Ref, error)
	FindRefsByCommit(ctx context.Context, hash types.Hash, namespace string) ([]meta.Ref, error)
	CompareAndSwapRef(ctx context.Context, name string, expected, next types.Hash) error
	IndexCommitWithMeta(ctx context.Context, c *core.Commit, info map[string]any) error
	FindCommitsByMeta(ctx context.Context, key string, value any, limit int) ([]meta.CommitModel, error)
}

type Store struct {
	objects  storage.Store
	repo     RefRepository
	namer    *naming.Namer
	attempts uint
	pageSize int
	logger   *slog.Logger
}

type Option func(*Store)

// WithAttempts 设置 CAS 冲突时的最大尝试次数
func WithAttempts(n uint) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(objects storage.Store, repo RefRepository, namer *naming.Namer, opts ...Option) *Store {
	s := &Store{
		objects:  objects,
		repo:     repo,
		namer:    namer,
		attempts: defaultAttempts,
		pageSize: defaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit 写入快照提交并登记引用
// 相同 (快照, 父提交) 得到相同的引用：已登记时直接返回已有条目
func (s *Store) Commit(ctx context.Context, snap *snapshot.Snapshot, parent types.Hash, opts CommitOptions) (*Experiment, error) {
	if parent.IsZero() {
		return nil, experr.ErrNoBaseline
	}
	baseline := opts.Baseline
	if baseline.IsZero() {
		baseline = parent
	}
	if opts.Name != "" {
		if err := naming.Validate(opts.Name); err != nil {
			return nil, err
		}
	}
	msg := opts.Message
	if msg == "" {
		msg = defaultMessage
	}

	commit, err := core.NewSnapshotCommit(snap.TreeHash, snap.Manifest.ID(), []types.Hash{parent}, opts.Author, msg)
	if err != nil {
		return nil, err
	}
	// 对象先落盘，引用后可见
	if err := s.objects.Put(ctx, commit); err != nil {
		return nil, fmt.Errorf("save commit: %w", err)
	}
	ref := commit.ID()

	exp, err := retry.DoWithData(func() (*Experiment, error) {
		return s.claim(ctx, baseline, ref, opts)
	},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(retryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, meta.ErrConcurrentUpdate) }),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warn("experiment ref contended, retrying", "ref", ref.Short(), "attempt", attempt+1)
		}),
	)
	if errors.Is(err, meta.ErrConcurrentUpdate) {
		return nil, experr.Concurrent(naming.BaselinePrefix(baseline), err)
	}
	if err != nil {
		return nil, err
	}
	exp.Parent = parent

	info := map[string]any{
		"experiment": exp.Name,
		"baseline":   string(baseline),
	}
	if len(snap.Forced) > 0 {
		info["forced"] = snap.Forced
	}
	if err := s.repo.IndexCommitWithMeta(ctx, commit, info); err != nil {
		// 引用已经可见，索引只影响查询
		s.logger.Warn("index experiment commit failed", "ref", ref.Short(), "error", err)
	}
	return exp, nil
}

// claim 为 ref 在基线下占用一个名称，失去 CAS 竞争时返回 meta.ErrConcurrentUpdate
func (s *Store) claim(ctx context.Context, baseline, ref types.Hash, opts CommitOptions) (*Experiment, error) {
	if opts.Name != "" {
		return s.claimExplicit(ctx, baseline, ref, opts.Name, opts.Force)
	}

	existing, err := s.repo.ListRefs(ctx, meta.RefQuery{
		Prefix:       naming.BaselinePrefix(baseline),
		CommitPrefix: string(ref),
	})
	if err != nil {
		return nil, err
	}
	if entries := toEntries(existing); len(entries) > 0 {
		e := naming.Canonical(entries, baseline)
		s.logger.Debug("experiment already registered", "name", e.Name, "ref", ref.Short())
		return fromEntry(e), nil
	}

	name, err := s.namer.Generate(ctx, baseline, ref)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, baseline, ref, name)
}

func (s *Store) claimExplicit(ctx context.Context, baseline, ref types.Hash, name string, force bool) (*Experiment, error) {
	key := naming.RefName(baseline, name)
	cur, err := s.repo.GetRef(ctx, key)
	if errors.Is(err, meta.ErrRefNotFound) {
		return s.create(ctx, baseline, ref, name)
	}
	if err != nil {
		return nil, err
	}
	if types.Hash(cur.CommitHash) == ref {
		e, _ := naming.EntryFromRef(*cur)
		return fromEntry(e), nil
	}
	if !force {
		return nil, experr.ExperimentExists(name)
	}

	if err := s.repo.CompareAndSwapRef(ctx, key, types.Hash(cur.CommitHash), ref); err != nil {
		if errors.Is(err, meta.ErrRefNotFound) {
			// 被并发删除，下一轮走创建
			return nil, meta.ErrConcurrentUpdate
		}
		return nil, err
	}
	s.logger.Info("experiment overwritten", "name", name, "old", types.Hash(cur.CommitHash).Short(), "new", ref.Short())
	return s.reload(ctx, key)
}

func (s *Store) create(ctx context.Context, baseline, ref types.Hash, name string) (*Experiment, error) {
	key := naming.RefName(baseline, name)
	if err := s.repo.CompareAndSwapRef(ctx, key, "", ref); err != nil {
		return nil, err
	}
	return s.reload(ctx, key)
}

func (s *Store) reload(ctx context.Context, key string) (*Experiment, error) {
	r, err := s.repo.GetRef(ctx, key)
	if err != nil {
		return nil, err
	}
	e, ok := naming.EntryFromRef(*r)
	if !ok {
		return nil, fmt.Errorf("malformed experiment ref %q", key)
	}
	return fromEntry(e), nil
}

func toEntries(refs []meta.Ref) []naming.Entry {
	out := make([]naming.Entry, 0, len(refs))
	for _, r := range refs {
		if e, ok := naming.EntryFromRef(r); ok {
			out = append(out, e)
		}
	}
	return out
}

// Resolve 把引用、名称或 Hash 前缀解析为实验及其提交对象
func (s *Store) Resolve(ctx context.Context, baseline types.Hash, refOrName string) (*Experiment, *core.Commit, error) {
	e, err := s.namer.Resolve(ctx, baseline, refOrName)
	if err != nil {
		return nil, nil, err
	}
	data, err := storage.ReadAll(ctx, s.objects, e.Ref)
	if err != nil {
		// 引用存在而对象丢失属于存储损坏
		return nil, nil, fmt.Errorf("read experiment commit %s: %w", e.Ref.Short(), err)
	}
	commit, err := core.DecodeCommit(data)
	if err != nil {
		return nil, nil, err
	}

	exp := fromEntry(e)
	if ps := commit.ParentHashes(); len(ps) > 0 {
		exp.Parent = ps[0]
	}
	return exp, commit, nil
}

// ExactName 返回引用的规范名称，当前基线下的名称优先
func (s *Store) ExactName(ctx context.Context, baseline, ref types.Hash) (string, error) {
	e, err := s.canonical(ctx, baseline, ref)
	if err != nil {
		return "", err
	}
	return e.Name, nil
}

func (s *Store) canonical(ctx context.Context, baseline, ref types.Hash) (naming.Entry, error) {
	refs, err := s.repo.FindRefsByCommit(ctx, ref, meta.NamespaceExps)
	if err != nil {
		return naming.Entry{}, err
	}
	entries := toEntries(refs)
	if len(entries) == 0 {
		return naming.Entry{}, experr.NotFound(ref.String())
	}
	return naming.Canonical(entries, baseline), nil
}

// Forced 返回基线下强制保存过的实验及保存时已过期的依赖路径
func (s *Store) Forced(ctx context.Context, baseline types.Hash) (map[types.Hash][]string, error) {
	commits, err := s.repo.FindCommitsByMeta(ctx, "baseline", string(baseline), 0)
	if err != nil {
		return nil, err
	}
	out := make(map[types.Hash][]string)
	for _, c := range commits {
		var info struct {
			Forced []string `json:"forced"`
		}
		if err := json.Unmarshal(c.Meta, &info); err != nil {
			s.logger.Warn("malformed commit meta", "hash", types.Hash(c.Hash).Short(), "error", err)
			continue
		}
		if len(info.Forced) > 0 {
			out[types.Hash(c.Hash)] = info.Forced
		}
	}
	return out, nil
}

// Remove 删除引用条目，对象留给 GC 处理
func (s *Store) Remove(ctx context.Context, exp *Experiment) error {
	err := s.repo.CompareAndSwapRef(ctx, exp.RefName, exp.Ref, "")
	switch {
	case errors.Is(err, meta.ErrRefNotFound):
		return experr.NotFound(exp.Name)
	case errors.Is(err, meta.ErrConcurrentUpdate):
		return experr.Concurrent(exp.RefName, err)
	case err != nil:
		return err
	}
	s.logger.Debug("experiment removed", "name", exp.Name, "ref", exp.Ref.Short())
	return nil
}
