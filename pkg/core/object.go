package core

import "expvault/pkg/types"

// ObjectType 定义了仓库中的对象类型
type ObjectType string

const (
	TypeChunk    ObjectType = "chunk"    // 原始数据块 (L1)
	TypeFileNode ObjectType = "filenode" // 大文件索引 (L2, ADL)
	TypeTree     ObjectType = "tree"     // 目录树 (L3)
	TypeCommit   ObjectType = "commit"   // 版本快照 (L4)
	TypeManifest ObjectType = "manifest" // 依赖/产出哈希清单 (实验快照附带)
)

// Object 是所有 Merkle DAG 节点的通用接口
type Object interface {
	// Type 返回对象类型
	Type() ObjectType

	// ID 返回对象的哈希值 (CID)
	ID() types.Hash

	// Bytes 返回对象的序列化数据 (用于存储)
	Bytes() []byte
}
