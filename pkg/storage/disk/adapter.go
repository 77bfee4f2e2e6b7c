package disk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"expvault/pkg/core"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"github.com/klauspost/compress/zstd"
)

const compressedSuffix = ".zst"

// Adapter 实现了 storage.Store 与 storage.Sweeper 接口
type Adapter struct {
	rootPath string // 比如: /home/user/project/.ev/objects
	compress bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Option 配置磁盘适配器
type Option func(*Adapter)

// WithCompression 使用 zstd 压缩写入的新对象
// 读取时总是同时兼容压缩与未压缩的对象
func WithCompression() Option {
	return func(a *Adapter) { a.compress = true }
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string, opts ...Option) (*Adapter, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	a := &Adapter{rootPath: root}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if a.enc, err = zstd.NewWriter(nil); err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	if a.dec, err = zstd.NewReader(nil); err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return a, nil
}

// layout 返回哈希对应的物理路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: hash "aabbcc..." -> root/aa/bbcc...
func (s *Adapter) layout(hash types.Hash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.rootPath, h)
	}
	return filepath.Join(s.rootPath, h[:2], h[2:])
}

// locate 返回对象实际所在的路径 (可能带压缩后缀)
func (s *Adapter) locate(hash types.Hash) (string, bool, error) {
	plain := s.layout(hash)
	for _, p := range []string{plain, plain + compressedSuffix} {
		_, err := os.Stat(p)
		if err == nil {
			return p, strings.HasSuffix(p, compressedSuffix), nil
		}
		if !os.IsNotExist(err) {
			return "", false, err
		}
	}
	return "", false, storage.ErrNotFound
}

func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	hash := obj.ID()
	if !hash.IsValid() {
		return fmt.Errorf("refusing to store object with invalid hash %q", hash)
	}

	// 1. 幂等性
	if ok, err := s.Has(ctx, hash); err != nil {
		return err
	} else if ok {
		return nil
	}

	targetPath := s.layout(hash)
	data := obj.Bytes()
	if s.compress {
		targetPath += compressedSuffix
		data = s.enc.EncodeAll(data, nil)
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 2. 原子写入：先写临时文件再 Rename，要么不存在，要么完整
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempFile.Name(), targetPath)
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	path, compressed, err := s.locate(hash)
	if err != nil {
		return nil, err
	}

	if !compressed {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return f, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupted object %s: %w", hash, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, _, err := s.locate(hash)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrNotFound {
		return false, nil
	}
	return false, err
}

// ExpandHash 在分片目录内按前缀查找
func (s *Adapter) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	prefix := strings.ToLower(string(short))
	if len(prefix) < storage.MinPrefixLen {
		return "", storage.ErrPrefixShort
	}
	if len(prefix) == 64 {
		if ok, err := s.Has(ctx, types.Hash(prefix)); err != nil {
			return "", err
		} else if ok {
			return types.Hash(prefix), nil
		}
		return "", storage.ErrNotFound
	}

	entries, err := os.ReadDir(filepath.Join(s.rootPath, prefix[:2]))
	if os.IsNotExist(err) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	var match types.Hash
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), compressedSuffix)
		if e.IsDir() || strings.HasPrefix(name, "temp-") {
			continue
		}
		full := types.Hash(prefix[:2] + name)
		if !strings.HasPrefix(string(full), prefix) || full == match {
			continue
		}
		if match != "" {
			return "", storage.ErrAmbiguousHash
		}
		match = full
	}
	if match == "" {
		return "", storage.ErrNotFound
	}
	return match, nil
}

// Walk 遍历所有对象
func (s *Adapter) Walk(ctx context.Context, fn func(types.Hash) error) error {
	shards, err := os.ReadDir(s.rootPath)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(filepath.Join(s.rootPath, shard.Name()))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), "temp-") {
				continue
			}
			h := types.Hash(shard.Name() + strings.TrimSuffix(e.Name(), compressedSuffix))
			if !h.IsValid() {
				continue
			}
			if err := fn(h); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Adapter) Delete(ctx context.Context, hash types.Hash) error {
	plain := s.layout(hash)
	for _, p := range []string{plain, plain + compressedSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
