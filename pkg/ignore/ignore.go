package ignore

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义忽略规则所在的文件
const FileName = ".evignore"

// Matcher 判断一个文件是否应该被忽略
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// 强制生效的默认规则
var defaultRules = []string{
	".ev",  // 仓库元数据目录
	".git", // Git 仓库数据

	"config.yaml", // 防止 S3 Secret Key 泄露
	".env",

	".DS_Store",
	"Thumbs.db",
}

// NewMatcher 读取 rootPath 下的 .evignore 并与默认规则合并
func NewMatcher(rootPath string) (*Matcher, error) {
	ignoreFilePath := filepath.Join(rootPath, FileName)

	if _, err := os.Stat(ignoreFilePath); err == nil {
		ignorer, err := gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
		if err != nil {
			return nil, err
		}
		return &Matcher{ignorer: ignorer}, nil
	}
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(defaultRules...)}, nil
}

// Matches 检查相对仓库根目录的路径是否应被忽略
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	path = filepath.ToSlash(path)
	return m.ignorer.MatchesPath(path)
}

// MatchesDir 用于遍历时剪枝，"build/" 这类只匹配目录的规则也能命中
func (m *Matcher) MatchesDir(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	path = strings.TrimSuffix(filepath.ToSlash(path), "/")
	return m.ignorer.MatchesPath(path) || m.ignorer.MatchesPath(path+"/")
}
