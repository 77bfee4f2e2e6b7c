package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"expvault/pkg/core"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Adapter 实现了 storage.Store 接口
// 对象存储只增不删，因此不实现 storage.Sweeper
type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Config 用于初始化 Adapter
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string // 多个仓库共享一个 Bucket 时的 Key 前缀，可为空
	AccessKeyID     string
	SecretAccessKey string
	Logger          *slog.Logger
}

// NewAdapter 初始化 S3 客户端
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	// 未配置静态凭证时走默认凭证链 (环境变量、Profile、IAM Role)
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须使用 Path Style: http://host:9000/bucket/key
		o.UsePathStyle = true
	})

	a := &Adapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}
	a.ensureBucket(ctx)
	return a, nil
}

func (s *Adapter) ensureBucket(ctx context.Context) {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket}); err == nil {
		return
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &s.bucket}); err != nil {
		// 并发创建或权限不足，交给后续读写去暴露真实错误
		s.logger.Warn("failed to ensure bucket exists", "bucket", s.bucket, "error", err)
	}
}

// objectKey 将 Hash 转换为 S3 Key (Sharding)
// "aabbcc..." -> "<prefix>/aa/bbcc..."
func (s *Adapter) objectKey(hashStr string) string {
	key := hashStr
	if len(hashStr) >= 2 {
		key = hashStr[:2] + "/" + hashStr[2:]
	}
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// hashFromKey 是 objectKey 的逆操作
func (s *Adapter) hashFromKey(key string) types.Hash {
	if s.prefix != "" {
		key = strings.TrimPrefix(key, s.prefix+"/")
	}
	return types.Hash(strings.Replace(key, "/", "", 1))
}

// Put 上传对象
func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	hash := obj.ID()
	if !hash.IsValid() {
		return fmt.Errorf("refusing to store object with invalid hash %q", hash)
	}

	// Head 请求比 Put 便宜，已存在则跳过
	exists, err := s.Has(ctx, hash)
	if err != nil {
		return fmt.Errorf("s3 put existence check failed: %w", err)
	}
	if exists {
		return nil
	}

	contentType := "application/cbor"
	if obj.Type() == core.TypeChunk {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(string(hash))),
		Body:        bytes.NewReader(obj.Bytes()),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s failed: %w", hash.Short(), err)
	}
	return nil
}

// Get 下载对象
func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(string(hash))),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s failed: %w", hash.Short(), err)
	}
	return resp.Body, nil
}

// Has 检查对象是否存在
func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(string(hash))),
	})
	if err == nil {
		return true, nil
	}

	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	// 某些 S3 兼容实现只返回裸 404
	if strings.Contains(err.Error(), "404") {
		return false, nil
	}
	return false, err
}

// ExpandHash 利用 Prefix 查询扩展短哈希
func (s *Adapter) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	prefix := strings.ToLower(string(short))
	if len(prefix) < storage.MinPrefixLen {
		return "", storage.ErrPrefixShort
	}

	// MaxKeys=2 足以区分 0 个、唯一、歧义
	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.objectKey(prefix)),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return "", fmt.Errorf("s3 list failed: %w", err)
	}

	switch n := aws.ToInt32(resp.KeyCount); {
	case n == 0:
		return "", storage.ErrNotFound
	case n > 1:
		return "", storage.ErrAmbiguousHash
	}
	return s.hashFromKey(aws.ToString(resp.Contents[0].Key)), nil
}
