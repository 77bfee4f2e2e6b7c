package core

import (
	"fmt"
	"sort"

	"expvault/pkg/types"
)

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

type TreeEntry struct {
	Name string    `cbor:"n"`
	Type EntryType `cbor:"t"`
	Cid  Link      `cbor:"h"`
	Size int64     `cbor:"s"`
}

type Tree struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType  `cbor:"t"`
	Entries []TreeEntry `cbor:"e"`
}

// NewTree 创建一个新的目录树节点
// 条目按名称排序，保证同一目录内容永远得到同一个 Hash
func NewTree(entries []TreeEntry) (*Tree, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, fmt.Errorf("duplicate tree entry %q", sorted[i].Name)
		}
	}

	t := &Tree{
		TypeVal: TypeTree,
		Entries: sorted,
	}
	h, b, err := CalculateHash(t)
	if err != nil {
		return nil, err
	}
	t.hash = h
	t.rawBytes = b
	return t, nil
}

// NewTreeEntryFromObject 自动根据子对象生成条目
func NewTreeEntryFromObject(name string, child Object) (TreeEntry, error) {
	var entryType EntryType
	var size int64

	switch n := child.(type) {
	case *FileNode:
		entryType = EntryFile
		size = n.TotalSize
	case *Chunk:
		entryType = EntryFile
		size = n.Size()
	case *Tree:
		entryType = EntryDir
	case *Commit, *Manifest:
		return TreeEntry{}, fmt.Errorf("%s cannot be an entry inside a tree", child.Type())
	default:
		return TreeEntry{}, fmt.Errorf("unsupported object type: %s", child.Type())
	}

	return TreeEntry{
		Name: name,
		Type: entryType,
		Cid:  NewLink(child.ID()),
		Size: size,
	}, nil
}

// Lookup 按名称查找条目 (Entries 已排序)
func (t *Tree) Lookup(name string) (TreeEntry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Name >= name })
	if i < len(t.Entries) && t.Entries[i].Name == name {
		return t.Entries[i], true
	}
	return TreeEntry{}, false
}

func (t *Tree) Type() ObjectType { return TypeTree }
func (t *Tree) ID() types.Hash   { return t.hash }
func (t *Tree) Bytes() []byte    { return t.rawBytes }

// DecodeTree 从存储的原始字节还原 Tree，并恢复其 ID
func DecodeTree(data []byte) (*Tree, error) {
	var t Tree
	if err := DecodeObject(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}
	if t.TypeVal != TypeTree {
		return nil, fmt.Errorf("object is not a tree, got: %s", t.TypeVal)
	}
	t.hash = CalculateBlobHash(data)
	t.rawBytes = data
	return &t, nil
}
