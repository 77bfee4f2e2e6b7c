package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"expvault/pkg/types"
)

// HashPath 计算文件或目录的内容哈希
//   - 文件: 内容的 sha256
//   - 目录: 对排序后的 "相对路径\x00文件哈希\n" 行再做 sha256
//   - 不存在: 返回空哈希，不报错
func HashPath(path string) (types.LinearHash, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return hashFile(path)
	}

	var lines []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		h, err := hashFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		lines = append(lines, filepath.ToSlash(rel)+"\x00"+string(h)+"\n")
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash dir %s: %w", path, err)
	}
	sort.Strings(lines)

	sum := sha256.Sum256([]byte(strings.Join(lines, "")))
	return types.LinearHash(hex.EncodeToString(sum[:])), nil
}

func hashFile(path string) (types.LinearHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return types.LinearHash(hex.EncodeToString(h.Sum(nil))), nil
}
