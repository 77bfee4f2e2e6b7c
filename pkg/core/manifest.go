package core

import (
	"fmt"
	"sort"

	"expvault/pkg/types"
)

// DepKind 区分依赖与产出
type DepKind string

const (
	KindDep DepKind = "dep"
	KindOut DepKind = "out"
)

// ManifestEntry 记录一个依赖/产出在快照时刻的哈希状态
type ManifestEntry struct {
	Path     string           `cbor:"p"`
	Kind     DepKind          `cbor:"k"`
	Stage    string           `cbor:"s"`
	Recorded types.LinearHash `cbor:"r"` // 锁文件中记录的哈希
	Current  types.LinearHash `cbor:"c"` // 保存时工作区中的实际哈希
}

// Stale 报告记录值与当前值是否不一致
func (e ManifestEntry) Stale() bool { return e.Recorded != e.Current }

type Manifest struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType      `cbor:"t"`
	Entries []ManifestEntry `cbor:"e"`
}

func NewManifest(entries []ManifestEntry) (*Manifest, error) {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		return a.Kind < b.Kind
	})

	m := &Manifest{TypeVal: TypeManifest, Entries: sorted}
	h, b, err := CalculateHash(m)
	if err != nil {
		return nil, err
	}
	m.hash = h
	m.rawBytes = b
	return m, nil
}

// StalePaths 返回所有过期条目的路径 (去重，有序)
func (m *Manifest) StalePaths() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range m.Entries {
		if e.Stale() && !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	return out
}

func (m *Manifest) Type() ObjectType { return TypeManifest }
func (m *Manifest) ID() types.Hash   { return m.hash }
func (m *Manifest) Bytes() []byte    { return m.rawBytes }

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := DecodeObject(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.TypeVal != TypeManifest {
		return nil, fmt.Errorf("object is not a manifest, got: %s", m.TypeVal)
	}
	m.hash = CalculateBlobHash(data)
	m.rawBytes = data
	return &m, nil
}
