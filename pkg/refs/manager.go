package refs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"expvault/pkg/meta"
	"expvault/pkg/types"

	"github.com/avast/retry-go/v4"
)

const (
	HeadRef       = "HEAD"
	BranchPrefix  = "refs/heads/"
	defaultTries  = 5
	retryInterval = 20 * time.Millisecond
)

var (
	ErrNoHead         = errors.New("HEAD not found (clean repo)")
	ErrStaleHead      = errors.New("HEAD was moved by another writer")
	ErrBranchExists   = errors.New("branch already exists")
	ErrBranchNotFound = errors.New("branch not found")
)

// Branch 是 refs/heads/* 下的一个分支
type Branch struct {
	Name   string
	Commit types.Hash
}

// Manager 负责管理主版本图上的引用：HEAD 与 refs/heads/*
type Manager struct {
	repo     *meta.Repository
	attempts uint
	logger   *slog.Logger
}

type Option func(*Manager)

// WithAttempts 设置 AdvanceHead 在 CAS 失败时的最大尝试次数
func WithAttempts(n uint) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(repo *meta.Repository, opts ...Option) *Manager {
	m := &Manager{repo: repo, attempts: defaultTries, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetHead 读取当前的 Commit Hash 与版本号
// 新仓库 (没提交过) 返回 ErrNoHead
func (m *Manager) GetHead(ctx context.Context) (types.Hash, int64, error) {
	ref, err := m.repo.GetRef(ctx, HeadRef)
	if errors.Is(err, meta.ErrRefNotFound) {
		return "", 0, ErrNoHead
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to read HEAD: %w", err)
	}
	return types.Hash(ref.CommitHash), ref.Version, nil
}

// UpdateHead 基于读到的版本号移动 HEAD，oldVersion 为 0 表示首次提交
func (m *Manager) UpdateHead(ctx context.Context, commitHash types.Hash, oldVersion int64) error {
	err := m.repo.UpdateRef(ctx, HeadRef, commitHash, oldVersion)
	if errors.Is(err, meta.ErrConcurrentUpdate) {
		return ErrStaleHead
	}
	return err
}

// AdvanceHead 读取 HEAD，调用 next 计算新的提交，再 CAS 写回
// 被其他进程抢先时重新读取并重试，next 可能被调用多次
func (m *Manager) AdvanceHead(ctx context.Context, next func(parent types.Hash) (types.Hash, error)) (types.Hash, error) {
	return retry.DoWithData(func() (types.Hash, error) {
		parent, ver, err := m.GetHead(ctx)
		if err != nil && !errors.Is(err, ErrNoHead) {
			return "", err
		}
		h, err := next(parent)
		if err != nil {
			return "", err
		}
		if err := m.UpdateHead(ctx, h, ver); err != nil {
			return "", err
		}
		return h, nil
	},
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(retryInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrStaleHead) }),
		retry.OnRetry(func(attempt uint, err error) {
			m.logger.Warn("HEAD moved concurrently, retrying", "attempt", attempt+1, "error", err)
		}),
	)
}

// BranchRefName 返回分支的完整引用名
func BranchRefName(name string) string {
	return BranchPrefix + name
}

// CreateBranch 仅在分支不存在时创建
func (m *Manager) CreateBranch(ctx context.Context, name string, commit types.Hash) error {
	err := m.repo.CompareAndSwapRef(ctx, BranchRefName(name), "", commit)
	if errors.Is(err, meta.ErrConcurrentUpdate) {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	return err
}

func (m *Manager) GetBranch(ctx context.Context, name string) (types.Hash, error) {
	ref, err := m.repo.GetRef(ctx, BranchRefName(name))
	if errors.Is(err, meta.ErrRefNotFound) {
		return "", fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return types.Hash(ref.CommitHash), nil
}

// ListBranches 按名称排序
func (m *Manager) ListBranches(ctx context.Context) ([]Branch, error) {
	refs, err := m.repo.ListRefs(ctx, meta.RefQuery{Namespace: meta.NamespaceHeads})
	if err != nil {
		return nil, err
	}
	out := make([]Branch, 0, len(refs))
	for _, r := range refs {
		out = append(out, Branch{
			Name:   strings.TrimPrefix(r.Name, BranchPrefix),
			Commit: types.Hash(r.CommitHash),
		})
	}
	slices.SortFunc(out, func(a, b Branch) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
