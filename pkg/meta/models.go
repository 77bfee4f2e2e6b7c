package meta

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 引用命名空间
const (
	NamespaceHead  = ""      // HEAD
	NamespaceHeads = "heads" // refs/heads/*
	NamespaceExps  = "exps"  // refs/exps/* 隐藏的实验命名空间
)

// Ref 是引用命名空间里的一个键
// 对应 Git 的 .git/refs/*，每个键一行，写入互不阻塞
type Ref struct {
	// Name 是主键，例如 "HEAD"、"refs/heads/main"、"refs/exps/ab/cdef.../lucky-otter"
	Name string `gorm:"primaryKey;type:varchar(255)"`

	// Namespace 由 Name 推导，用于按命名空间枚举
	Namespace string `gorm:"type:varchar(32);index:idx_ref_ns_created,priority:1"`

	CommitHash string `gorm:"type:char(64);not null;index"`

	// Version 用于乐观锁 (CAS)，每次更新 +1
	Version int64 `gorm:"default:1"`

	// CreatedNano 记录该键当前取值的写入时刻，List 按它倒序
	CreatedNano int64 `gorm:"index:idx_ref_ns_created,priority:2"`

	UpdatedAt time.Time
}

// RefNamespace 从引用名推导命名空间
func RefNamespace(name string) string {
	if !strings.HasPrefix(name, "refs/") {
		return NamespaceHead
	}
	rest := strings.TrimPrefix(name, "refs/")
	if i := strings.IndexByte(rest, '/'); i > 0 {
		return rest[:i]
	}
	return rest
}

// CommitModel 是 core.Commit 在关系型数据库中的投影 (索引)
// 用于 ev log 和实验元数据查询
type CommitModel struct {
	Hash string `gorm:"primaryKey;type:char(64)"`

	Author    string `gorm:"index;type:varchar(100)"`
	Message   string `gorm:"type:text"`
	Timestamp int64  `gorm:"index"` // 实验快照为 0

	TreeHash     string `gorm:"type:char(64);not null"`
	ManifestHash string `gorm:"type:char(64)"`

	// Parents: ["hash1", "hash2"]
	Parents datatypes.JSON

	// Meta: 实验名、基线、强制保存时的过期路径等非结构化数据
	Meta datatypes.JSON `gorm:"index:idx_commit_meta"`

	CreatedAt time.Time
}

func (CommitModel) TableName() string {
	return "commits"
}

// FileIndex 记录 "线性哈希 -> Merkle Root" 的映射
// 内容未变的文件再次入库时可以跳过切分
type FileIndex struct {
	LinearHash string `gorm:"primaryKey;type:char(64)"`
	MerkleRoot string `gorm:"type:char(64);not null"`
	SizeBytes  int64

	CreatedAt time.Time
}

func (FileIndex) TableName() string {
	return "file_index"
}
