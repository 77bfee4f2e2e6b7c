package core

import (
	"fmt"

	"expvault/pkg/types"
)

// ChunkLink 描述了 FileNode 对底层 Chunk 的引用
type ChunkLink struct {
	Cid  Link `cbor:"h"`
	Size int  `cbor:"s"` // 这个 Chunk 的大小 (用于计算 offset)
}

// FileNode (ADL) 将散乱的 Chunk 组装成一个逻辑上的大文件
type FileNode struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal   ObjectType  `cbor:"t"`  // 必须是 "filenode"
	TotalSize int64       `cbor:"ts"` // 文件总大小
	Chunks    []ChunkLink `cbor:"cs"` // 所有的切片引用
}

// NewFileNode 创建一个新的文件索引节点
func NewFileNode(totalSize int64, chunks []ChunkLink) (*FileNode, error) {
	if chunks == nil {
		chunks = []ChunkLink{}
	}
	node := &FileNode{
		TypeVal:   TypeFileNode,
		TotalSize: totalSize,
		Chunks:    chunks,
	}
	h, b, err := CalculateHash(node)
	if err != nil {
		return nil, err
	}
	node.hash = h
	node.rawBytes = b
	return node, nil
}

func (f *FileNode) Type() ObjectType { return TypeFileNode }
func (f *FileNode) ID() types.Hash   { return f.hash }
func (f *FileNode) Bytes() []byte    { return f.rawBytes }
func (f *FileNode) Size() int64      { return f.TotalSize }

// FileNodeBuilder 按顺序收集 Chunk，最后生成 FileNode
type FileNodeBuilder struct {
	chunks []ChunkLink
	total  int64
}

func NewFileNodeBuilder() *FileNodeBuilder {
	return &FileNodeBuilder{}
}

func (b *FileNodeBuilder) Add(c *Chunk) {
	b.chunks = append(b.chunks, ChunkLink{Cid: NewLink(c.ID()), Size: len(c.Bytes())})
	b.total += c.Size()
}

func (b *FileNodeBuilder) Build() (*FileNode, error) {
	node, err := NewFileNode(b.total, b.chunks)
	if err != nil {
		return nil, fmt.Errorf("build filenode: %w", err)
	}
	return node, nil
}

// DecodeFileNode 从存储的原始字节还原 FileNode
func DecodeFileNode(data []byte) (*FileNode, error) {
	var f FileNode
	if err := DecodeObject(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode filenode: %w", err)
	}
	if f.TypeVal != TypeFileNode {
		return nil, fmt.Errorf("object is not a filenode, got: %s", f.TypeVal)
	}
	f.hash = CalculateBlobHash(data)
	f.rawBytes = data
	return &f, nil
}
