package lockfile

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"expvault/pkg/types"

	"gopkg.in/yaml.v3"
)

// FileName 是仓库根目录下的锁文件
const FileName = "ev.lock"

const schemaVersion = "1.0"

var (
	ErrStageNotFound = errors.New("stage not found")
	ErrInvalidPath   = errors.New("invalid dependency path")
)

// Dep 是一个依赖或产出及其记录的哈希
type Dep struct {
	Path string           `yaml:"path"`
	Hash types.LinearHash `yaml:"hash,omitempty"`
}

// Stage 是流水线中的一步
type Stage struct {
	Cmd  string `yaml:"cmd"`
	Deps []Dep  `yaml:"deps,omitempty"`
	Outs []Dep  `yaml:"outs,omitempty"`
}

// Lock 对应 ev.lock 的内容
type Lock struct {
	Schema string            `yaml:"schema"`
	Stages map[string]*Stage `yaml:"stages"`
}

func New() *Lock {
	return &Lock{Schema: schemaVersion, Stages: make(map[string]*Stage)}
}

// Load 读取锁文件，不存在时返回空锁
func Load(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	l := New()
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if l.Stages == nil {
		l.Stages = make(map[string]*Stage)
	}
	if err := l.validate(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return l, nil
}

// validate 拒绝指向工作区之外的路径，并把路径规范化
func (l *Lock) validate() error {
	for _, name := range l.StageNames() {
		st := l.Stages[name]
		if st == nil {
			return fmt.Errorf("stage %s: empty definition", name)
		}
		for _, list := range [][]Dep{st.Deps, st.Outs} {
			for i := range list {
				clean, err := cleanRel(list[i].Path)
				if err != nil {
					return fmt.Errorf("stage %s: %w", name, err)
				}
				list[i].Path = clean
			}
		}
	}
	return nil
}

// Save 原子地写回锁文件
func (l *Lock) Save(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return fmt.Errorf("encode lock: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// StageNames 返回排序后的 stage 名称
func (l *Lock) StageNames() []string {
	return slices.Sorted(maps.Keys(l.Stages))
}

// AddStage 新增或替换一个 stage，哈希留空，等待 Update 记录
func (l *Lock) AddStage(name, cmd string, deps, outs []string) error {
	if name == "" || strings.ContainsAny(name, " \t\n/") {
		return fmt.Errorf("invalid stage name %q", name)
	}
	st := &Stage{Cmd: cmd}
	for _, p := range deps {
		clean, err := cleanRel(p)
		if err != nil {
			return err
		}
		st.Deps = append(st.Deps, Dep{Path: clean})
	}
	for _, p := range outs {
		clean, err := cleanRel(p)
		if err != nil {
			return err
		}
		st.Outs = append(st.Outs, Dep{Path: clean})
	}
	l.Stages[name] = st
	return nil
}

// Update 用工作区当前内容重新记录 stage 的哈希，不传 stage 表示全部
func (l *Lock) Update(root string, stages ...string) error {
	if len(stages) == 0 {
		stages = l.StageNames()
	}
	for _, name := range stages {
		st, ok := l.Stages[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrStageNotFound, name)
		}
		for _, list := range [][]Dep{st.Deps, st.Outs} {
			for i := range list {
				h, err := HashPath(filepath.Join(root, filepath.FromSlash(list[i].Path)))
				if err != nil {
					return err
				}
				list[i].Hash = h
			}
		}
	}
	return nil
}

// cleanRel 规范化为仓库内的相对路径
func cleanRel(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: must be relative: %q", ErrInvalidPath, p)
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: escapes the workspace: %q", ErrInvalidPath, p)
	}
	return clean, nil
}
