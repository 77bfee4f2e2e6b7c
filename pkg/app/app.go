// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"expvault/pkg/exp"
	"expvault/pkg/ignore"
	"expvault/pkg/index"
	"expvault/pkg/ingester"
	"expvault/pkg/meta"
	"expvault/pkg/metrics"
	"expvault/pkg/refs"
	"expvault/pkg/storage"
	"expvault/pkg/storage/cache"
	"expvault/pkg/storage/disk"
	"expvault/pkg/storage/s3"

	"github.com/spf13/viper"
)

var ErrNotRepository = errors.New("not an ev repository")

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有"单例"服务
type App struct {
	Root     string // 工作区根目录
	RepoPath string // <Root>/.ev

	Store    storage.Store
	DB       *meta.DB
	Meta     *meta.Repository
	Index    *index.Index
	Refs     *refs.Manager
	Ingester *ingester.Ingester
	Ignore   *ignore.Matcher
	Exps     *exp.Orchestrator
	Metrics  *metrics.Service
	Logger   *slog.Logger

	closers []func() error
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. 仓库位置：storage.path 的上一层即 .ev
	storePath := viper.GetString("storage.path")
	if storePath == "" {
		return nil, fmt.Errorf("storage path not set")
	}
	repoPath := filepath.Dir(storePath)
	if _, err := os.Stat(repoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, repoPath)
	}
	a := &App{Root: filepath.Dir(repoPath), RepoPath: repoPath, Logger: logger}

	// 2. 存储层
	store, err := initStore(ctx, repoPath, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(*cache.CachedStore); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.Store = store

	// 3. 元数据库
	db, err := meta.NewDB(ctx, dbConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init metadata db: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.DB = db
	a.Meta = meta.NewRepository(db)

	// 4. 暂存区
	a.Index, err = index.NewIndex(filepath.Join(repoPath, "index.json"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	a.Ignore, err = ignore.NewMatcher(a.Root)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load %s: %w", ignore.FileName, err)
	}

	attempts := uint(viper.GetInt("exp.cas_attempts"))
	a.Refs = refs.NewManager(a.Meta, refs.WithAttempts(attempts), refs.WithLogger(logger))
	a.Ingester = ingester.NewIngester(store, ingester.WithFileIndex(a.Meta), ingester.WithLogger(logger))
	a.Metrics = metrics.NewService(store, viper.GetStringSlice("metrics.files"), logger)
	a.Exps = exp.New(exp.Config{
		Root:        a.Root,
		Objects:     store,
		Repo:        a.Meta,
		Head:        a.Refs,
		Index:       a.Index,
		Ingester:    a.Ingester,
		Ignore:      a.Ignore,
		Author:      viper.GetString("user.name"),
		MaxSuffix:   viper.GetInt("exp.max_suffix"),
		CASAttempts: attempts,
		Logger:      logger,
	})
	return a, nil
}

// initStore 按 storage.type 选择后端，配置了 cache.redis_url 时包一层缓存
func initStore(ctx context.Context, repoPath string, logger *slog.Logger) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch t := viper.GetString("storage.type"); t {
	case "", "disk":
		path := viper.GetString("storage.path")
		if path == "" {
			path = filepath.Join(repoPath, "objects")
		}
		var opts []disk.Option
		if viper.GetBool("storage.compress") {
			opts = append(opts, disk.WithCompression())
		}
		store, err = disk.NewAdapter(path, opts...)
	case "s3":
		store, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			Prefix:          viper.GetString("storage.s3.prefix"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
			Logger:          logger,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	if url := viper.GetString("cache.redis_url"); url != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL: url,
			TTL:      viper.GetDuration("cache.ttl"),
			Logger:   logger,
		})
		if err != nil {
			// 缓存只是加速层，连不上就直接用后端
			logger.Warn("redis cache disabled", "error", err)
			return store, nil
		}
		return cached, nil
	}
	return store, nil
}

func dbConfig() meta.Config {
	return meta.Config{
		Driver:   viper.GetString("database.driver"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
		Debug:    viper.GetBool("database.debug"),
	}
}

// Close 释放数据库连接与缓存客户端
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
