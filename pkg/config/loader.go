package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RepoDir 是工作区根目录下的仓库元数据目录
const RepoDir = ".ev"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
// 优先级：flag > 环境变量 (EV_*) > 配置文件 > 默认值
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	if err := setDefaults(); err != nil {
		return err
	}

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录、当前目录下的 .ev、用户主目录下的 .ev
		viper.AddConfigPath(".")
		viper.AddConfigPath(RepoDir)
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, RepoDir))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 3. 读取环境变量 (EV_STORAGE_TYPE 等)
	viper.SetEnvPrefix("EV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件，找不到文件不算错
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error config file: %w", err)
	}
	return nil
}

func setDefaults() error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	repo := filepath.Join(wd, RepoDir)

	// 存储
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(repo, "objects"))
	viper.SetDefault("storage.compress", false)
	viper.SetDefault("storage.s3.region", "us-east-1")

	// 缓存 (redis_url 为空表示不启用)
	viper.SetDefault("cache.ttl", 24*time.Hour)

	// 元数据库
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(repo, "meta.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// 实验
	viper.SetDefault("exp.max_suffix", 16)
	viper.SetDefault("exp.cas_attempts", 5)
	viper.SetDefault("metrics.files", []string{"metrics.json"})

	viper.SetDefault("user.name", defaultUser())
	viper.SetDefault("log.level", "warn")
	return nil
}

func defaultUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(key); u != "" {
			return u
		}
	}
	return "unknown"
}
