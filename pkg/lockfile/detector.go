package lockfile

import (
	"context"
	"path/filepath"
	"sort"

	"expvault/pkg/core"
	"expvault/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Dependency 是锁文件中的一条依赖/产出记录
type Dependency struct {
	Path     string
	Kind     core.DepKind
	Stage    string
	Recorded types.LinearHash
}

// Status 是一次检查的结果
type Status struct {
	Dependency
	Current types.LinearHash
}

func (s Status) IsStale() bool { return s.Recorded != s.Current }

// Report 按 (Path, Stage, Kind) 排序
type Report []Status

// Stale 返回 路径 -> 是否过期；同一路径出现在多个 stage 时任一过期即过期
func (r Report) Stale() map[string]bool {
	out := make(map[string]bool, len(r))
	for _, s := range r {
		out[s.Path] = out[s.Path] || s.IsStale()
	}
	return out
}

// StalePaths 返回排序去重后的过期路径
func (r Report) StalePaths() []string {
	var paths []string
	for p, stale := range r.Stale() {
		if stale {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// ManifestEntries 转换为快照清单条目
func (r Report) ManifestEntries() []core.ManifestEntry {
	out := make([]core.ManifestEntry, len(r))
	for i, s := range r {
		out[i] = core.ManifestEntry{
			Path:     s.Path,
			Kind:     s.Kind,
			Stage:    s.Stage,
			Recorded: s.Recorded,
			Current:  s.Current,
		}
	}
	return out
}

// Detector 基于 ev.lock 判断依赖/产出是否过期
type Detector struct {
	root     string
	parallel int
}

func NewDetector(root string) *Detector {
	return &Detector{root: root, parallel: 8}
}

// Dependencies 列出锁文件记录的全部依赖与产出
func (d *Detector) Dependencies(ctx context.Context) ([]Dependency, error) {
	l, err := Load(filepath.Join(d.root, FileName))
	if err != nil {
		return nil, err
	}
	var deps []Dependency
	for _, name := range l.StageNames() {
		st := l.Stages[name]
		for _, dep := range st.Deps {
			deps = append(deps, Dependency{Path: dep.Path, Kind: core.KindDep, Stage: name, Recorded: dep.Hash})
		}
		for _, out := range st.Outs {
			deps = append(deps, Dependency{Path: out.Path, Kind: core.KindOut, Stage: name, Recorded: out.Hash})
		}
	}
	return deps, nil
}

// Check 并发计算每个依赖的当前哈希
func (d *Detector) Check(ctx context.Context, deps []Dependency) (Report, error) {
	// 同一路径只算一次
	hashes := make(map[string]types.LinearHash)
	for _, dep := range deps {
		hashes[dep.Path] = ""
	}
	paths := make([]string, 0, len(hashes))
	for p := range hashes {
		paths = append(paths, p)
	}

	results := make([]types.LinearHash, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := HashPath(filepath.Join(d.root, filepath.FromSlash(p)))
			if err != nil {
				return err
			}
			results[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, p := range paths {
		hashes[p] = results[i]
	}

	report := make(Report, len(deps))
	for i, dep := range deps {
		report[i] = Status{Dependency: dep, Current: hashes[dep.Path]}
	}
	sort.Slice(report, func(i, j int) bool {
		a, b := report[i], report[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		return a.Kind < b.Kind
	})
	return report, nil
}
