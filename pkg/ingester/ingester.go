package ingester

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"expvault/pkg/chunker"
	"expvault/pkg/core"
	"expvault/pkg/meta"
	"expvault/pkg/storage"
	"expvault/pkg/types"
)

// FileIndexer 缓存 "整文件 sha256 -> Merkle Root"，*meta.Repository 满足该接口
type FileIndexer interface {
	GetFileIndex(ctx context.Context, linear types.LinearHash) (*meta.FileIndex, error)
	SaveFileIndex(ctx context.Context, linear types.LinearHash, root types.Hash, size int64) error
}

// Result 描述一次入库的结果
type Result struct {
	Root   types.Hash       // FileNode 的 Hash
	Linear types.LinearHash // 整个文件内容的 sha256
	Size   int64
	Reused bool // 命中文件索引，没有重新切分
}

type Ingester struct {
	store   storage.Store
	chunker *chunker.Chunker
	files   FileIndexer
	logger  *slog.Logger
}

type Option func(*Ingester)

// WithFileIndex 启用秒传：内容相同的文件跳过切分与上传
func WithFileIndex(fi FileIndexer) Option {
	return func(ing *Ingester) { ing.files = fi }
}

func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingester) {
		if l != nil {
			ing.logger = l
		}
	}
}

func NewIngester(store storage.Store, opts ...Option) *Ingester {
	ing := &Ingester{
		store:   store,
		chunker: chunker.NewChunker(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// IngestFile 读取一个文件流，切分，存储，并返回 FileNode
func (ing *Ingester) IngestFile(ctx context.Context, reader io.Reader) (*core.FileNode, error) {
	// TODO: 流式切分，避免大文件整体读入内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ing.ingestBytes(ctx, data)
}

func (ing *Ingester) ingestBytes(ctx context.Context, data []byte) (*core.FileNode, error) {
	builder := core.NewFileNodeBuilder()
	start := 0
	for _, end := range ing.chunker.Cut(data) {
		chunkObj := core.NewChunk(data[start:end])
		if err := ing.store.Put(ctx, chunkObj); err != nil {
			return nil, fmt.Errorf("failed to store chunk: %w", err)
		}
		builder.Add(chunkObj)
		start = end
	}

	fileNode, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create file node: %w", err)
	}
	if err := ing.store.Put(ctx, fileNode); err != nil {
		return nil, fmt.Errorf("failed to store file node: %w", err)
	}
	return fileNode, nil
}

// Ingest 同 IngestFile，但会先查文件索引
func (ing *Ingester) Ingest(ctx context.Context, reader io.Reader) (Result, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	sum := sha256.Sum256(data)
	linear := types.LinearHash(hex.EncodeToString(sum[:]))
	size := int64(len(data))

	if ing.files != nil {
		hit, err := ing.files.GetFileIndex(ctx, linear)
		if err != nil {
			ing.logger.Warn("file index lookup failed", "linear", linear, "error", err)
		} else if hit != nil {
			root := types.Hash(hit.MerkleRoot)
			// 对象可能已被 GC 回收，必须再确认一次
			if ok, err := ing.store.Has(ctx, root); err == nil && ok {
				return Result{Root: root, Linear: linear, Size: size, Reused: true}, nil
			}
		}
	}

	node, err := ing.ingestBytes(ctx, data)
	if err != nil {
		return Result{}, err
	}
	if ing.files != nil {
		if err := ing.files.SaveFileIndex(ctx, linear, node.ID(), size); err != nil {
			ing.logger.Warn("file index save failed", "linear", linear, "error", err)
		}
	}
	return Result{Root: node.ID(), Linear: linear, Size: size}, nil
}

// IngestPath 打开并入库一个本地文件
func (ing *Ingester) IngestPath(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	res, err := ing.Ingest(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("ingest %s: %w", path, err)
	}
	return res, nil
}
