package storage

import (
	"context"
	"errors"
	"io"

	"expvault/pkg/core"
	"expvault/pkg/types"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrAmbiguousHash = errors.New("ambiguous hash prefix")
	ErrPrefixShort   = errors.New("hash prefix too short")
)

// MinPrefixLen 是短哈希展开允许的最短长度
const MinPrefixLen = 4

// Store defines the interface for a storage backend.
// Implementations can be local disk, cloud storage, or a caching decorator.
type Store interface {
	// Put 将一个核心对象持久化 (幂等)
	Put(ctx context.Context, obj core.Object) error

	// Get 根据 Hash 读取原始数据，不存在时返回 ErrNotFound
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查对象是否存在 (用于去重逻辑)
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// ExpandHash 将短哈希展开为完整哈希
	ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error)
}

// Sweeper 是支持垃圾回收的后端需要额外实现的能力
// 对象存储默认只增不删，只有本地磁盘实现了它
type Sweeper interface {
	// Walk 遍历存储中的所有对象 Hash
	Walk(ctx context.Context, fn func(types.Hash) error) error
	// Delete 删除一个对象，不存在时不报错
	Delete(ctx context.Context, hash types.Hash) error
}

// ReadAll 读取并关闭一个对象
func ReadAll(ctx context.Context, s Store, hash types.Hash) ([]byte, error) {
	rc, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
