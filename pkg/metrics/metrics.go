package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"expvault/pkg/exporter"
	"expvault/pkg/storage"
	"expvault/pkg/types"

	"gopkg.in/yaml.v3"
)

// DefaultFiles 未配置 metrics.files 时读取的文件
var DefaultFiles = []string{"metrics.json"}

// Values 是单个指标文件解码后的内容
type Values map[string]any

// Snapshot 文件路径 -> 指标
type Snapshot map[string]Values

// Service 从提交的树中按需读取指标文件，不做任何持久化
type Service struct {
	exp    *exporter.Exporter
	files  []string
	logger *slog.Logger
}

func NewService(store storage.Store, files []string, logger *slog.Logger) *Service {
	if len(files) == 0 {
		files = DefaultFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{exp: exporter.NewExporter(store), files: files, logger: logger}
}

// Show 读取一组提交的指标；提交中缺失的指标文件直接跳过
func (s *Service) Show(ctx context.Context, refs ...types.Hash) (map[types.Hash]Snapshot, error) {
	out := make(map[types.Hash]Snapshot, len(refs))
	for _, ref := range refs {
		snap, err := s.Read(ctx, ref)
		if err != nil {
			return nil, err
		}
		out[ref] = snap
	}
	return out, nil
}

// Read 读取单个提交的指标
func (s *Service) Read(ctx context.Context, ref types.Hash) (Snapshot, error) {
	commit, err := s.exp.ReadCommit(ctx, ref)
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot)
	for _, file := range s.files {
		data, err := s.exp.ReadPath(ctx, commit.TreeCid.Hash, file)
		if errors.Is(err, exporter.ErrPathNotFound) {
			s.logger.Debug("metrics file absent", "ref", ref.Short(), "file", file)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read metrics %s@%s: %w", file, ref.Short(), err)
		}
		vals, err := Decode(file, data)
		if err != nil {
			return nil, err
		}
		snap[file] = vals
	}
	return snap, nil
}

// Decode 按扩展名解析 JSON 或 YAML，未知扩展名先试 JSON 再试 YAML
// 解析到普通 map：yaml.v3 会把嵌套映射解码成外层的具名类型
func Decode(name string, data []byte) (Values, error) {
	var m map[string]any
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			m = nil
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("parse %s: unsupported metrics format", name)
			}
		}
	}
	if m == nil {
		m = map[string]any{}
	}
	return Values(m), nil
}
