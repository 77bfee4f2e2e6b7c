package core

import (
	"fmt"
	"time"

	"expvault/pkg/types"
)

type Commit struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType `cbor:"t"`

	TreeCid Link   `cbor:"th"`
	Parents []Link `cbor:"p"`

	// Manifest 仅实验快照携带：记录保存时所有依赖/产出的哈希状态
	Manifest *Link `cbor:"mf,omitempty"`

	Author  string `cbor:"a"`
	Message string `cbor:"m"`

	// Timestamp 为 0 时不参与编码，实验快照依赖这一点获得确定性的 ID
	Timestamp int64 `cbor:"ts,omitempty"`
}

// NewCommit 创建主版本图上的普通提交 (带时间戳)
func NewCommit(treeHash types.Hash, parents []types.Hash, author, msg string) (*Commit, error) {
	c := &Commit{
		TypeVal:   TypeCommit,
		TreeCid:   NewLink(treeHash),
		Parents:   toLinks(parents),
		Author:    author,
		Message:   msg,
		Timestamp: time.Now().Unix(),
	}
	return c, c.seal()
}

// NewSnapshotCommit 创建实验快照提交
// 不带时间戳：相同的 (tree, manifest, parents, author, msg) 永远得到相同的 ID
func NewSnapshotCommit(treeHash, manifestHash types.Hash, parents []types.Hash, author, msg string) (*Commit, error) {
	c := &Commit{
		TypeVal: TypeCommit,
		TreeCid: NewLink(treeHash),
		Parents: toLinks(parents),
		Author:  author,
		Message: msg,
	}
	if !manifestHash.IsZero() {
		l := NewLink(manifestHash)
		c.Manifest = &l
	}
	return c, c.seal()
}

func toLinks(hashes []types.Hash) []Link {
	links := make([]Link, len(hashes))
	for i, p := range hashes {
		links[i] = NewLink(p)
	}
	return links
}

func (c *Commit) seal() error {
	h, b, err := CalculateHash(c)
	if err != nil {
		return err
	}
	c.hash = h
	c.rawBytes = b
	return nil
}

// ParentHashes 返回父节点 Hash 列表
func (c *Commit) ParentHashes() []types.Hash {
	out := make([]types.Hash, len(c.Parents))
	for i, p := range c.Parents {
		out[i] = p.Hash
	}
	return out
}

func (c *Commit) Type() ObjectType { return TypeCommit }
func (c *Commit) ID() types.Hash   { return c.hash }
func (c *Commit) Bytes() []byte    { return c.rawBytes }

// DecodeCommit 从存储的原始字节还原 Commit，并恢复其 ID
func DecodeCommit(data []byte) (*Commit, error) {
	var c Commit
	if err := DecodeObject(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode commit: %w", err)
	}
	if c.TypeVal != TypeCommit {
		return nil, fmt.Errorf("object is not a commit, got: %s", c.TypeVal)
	}
	c.hash = CalculateBlobHash(data)
	c.rawBytes = data
	return &c, nil
}
