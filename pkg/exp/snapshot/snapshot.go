// Package snapshot 把工作区当前状态捕获为不可变的树对象与依赖清单
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"expvault/pkg/core"
	"expvault/pkg/exp/experr"
	"expvault/pkg/ignore"
	"expvault/pkg/index"
	"expvault/pkg/ingester"
	"expvault/pkg/lockfile"
	"expvault/pkg/storage"
	"expvault/pkg/treebuilder"
	"expvault/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Detector 判断依赖/产出是否过期，*lockfile.Detector 实现了它
type Detector interface {
	Dependencies(ctx context.Context) ([]lockfile.Dependency, error)
	Check(ctx context.Context, deps []lockfile.Dependency) (lockfile.Report, error)
}

// Snapshot 是一次捕获的结果，写入后不再修改
type Snapshot struct {
	TreeHash types.Hash
	Manifest *core.Manifest
	Files    int
	Bytes    int64
	// Forced 是 force 保存时仍然过期的路径
	Forced []string
}

type Options struct {
	Force            bool
	IncludeUntracked bool
}

type Builder struct {
	root     string
	store    storage.Store
	ing      *ingester.Ingester
	detector Detector
	tracked  treebuilder.Source
	ignore   *ignore.Matcher
	parallel int
	logger   *slog.Logger
}

type Option func(*Builder)

func WithIgnore(m *ignore.Matcher) Option {
	return func(b *Builder) { b.ignore = m }
}

func WithParallelism(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.parallel = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder root 为工作区根目录，tracked 一般是 *index.Index
func NewBuilder(root string, store storage.Store, ing *ingester.Ingester, detector Detector, tracked treebuilder.Source, opts ...Option) *Builder {
	b := &Builder{
		root:     root,
		store:    store,
		ing:      ing,
		detector: detector,
		tracked:  tracked,
		parallel: 8,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 先做过期检查，再捕获工作区
// 过期且未 force 时在写入任何对象之前返回 experr.ErrStaleDependency
func (b *Builder) Build(ctx context.Context, opts Options) (*Snapshot, error) {
	deps, err := b.detector.Dependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	report, err := b.detector.Check(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("check dependencies: %w", err)
	}
	stale := report.StalePaths()
	if len(stale) > 0 && !opts.Force {
		return nil, experr.Stale(stale)
	}
	if len(stale) > 0 {
		b.logger.Warn("saving with stale dependencies", "paths", stale)
	}

	paths, err := b.collect(deps, opts.IncludeUntracked)
	if err != nil {
		return nil, err
	}
	entries, err := b.ingestAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	treeHash, err := treebuilder.NewBuilder(b.store).Build(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	manifest, err := core.NewManifest(report.ManifestEntries())
	if err != nil {
		return nil, err
	}
	if err := b.store.Put(ctx, manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}

	snap := &Snapshot{TreeHash: treeHash, Manifest: manifest, Files: len(entries), Forced: stale}
	for _, e := range entries {
		snap.Bytes += e.Size
	}
	b.logger.Debug("snapshot captured", "tree", treeHash.Short(), "files", snap.Files, "bytes", snap.Bytes)
	return snap, nil
}

// collect 汇总要捕获的相对路径：跟踪集合、依赖/产出，以及可选的未跟踪文件
func (b *Builder) collect(deps []lockfile.Dependency, untracked bool) ([]string, error) {
	set := make(map[string]struct{})
	add := func(rel string) {
		if !b.ignore.Matches(rel) {
			set[rel] = struct{}{}
		}
	}

	for p := range b.tracked.Snapshot() {
		add(index.CleanPath(p))
	}
	if err := b.walk(lockfile.FileName, add); err != nil {
		return nil, err
	}
	for _, dep := range deps {
		if err := b.walk(dep.Path, add); err != nil {
			return nil, err
		}
	}
	if untracked {
		if err := b.walk(".", add); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// walk 把 rel 下的所有文件交给 fn；不存在的路径直接跳过
func (b *Builder) walk(rel string, fn func(string)) error {
	start := filepath.Join(b.root, filepath.FromSlash(rel))
	if _, err := os.Stat(start); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if d.IsDir() {
			if relPath != "." && b.ignore.MatchesDir(relPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			fn(relPath)
		}
		return nil
	})
}

// ingestAll 并发入库；跟踪集合中已被删除的文件不进入快照
func (b *Builder) ingestAll(ctx context.Context, paths []string) (treebuilder.Entries, error) {
	var mu sync.Mutex
	entries := make(treebuilder.Entries, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for _, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			full := filepath.Join(b.root, filepath.FromSlash(rel))
			res, err := b.ing.IngestPath(gctx, full)
			if errors.Is(err, fs.ErrNotExist) {
				b.logger.Debug("tracked file missing from workspace", "path", rel)
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			entries[rel] = index.Entry{Path: rel, Hash: res.Root, Size: res.Size}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
