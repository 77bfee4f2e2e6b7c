// pkg/types/common.go
package types

import "encoding/hex"

// Hash 代表对象的唯一标识符 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool { return h == "" }
func (h Hash) IsValid() bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(string(h))
	return err == nil
}

// Short 返回用于展示的前 8 位
func (h Hash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// LinearHash 是文件原始内容的 SHA256 (非 Merkle Root)
// 依赖/产出的锁文件记录的就是它
type LinearHash string

func (h LinearHash) String() string { return string(h) }
func (h LinearHash) IsValid() bool  { return len(h) == 64 }

// 辅助转换 (显式转换，提醒开发者注意)
func (h LinearHash) ToHash() Hash { return Hash(h) }

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// IsHex 检查前缀是否只包含十六进制字符
func (p HashPrefix) IsHex() bool {
	if p == "" {
		return false
	}
	for _, c := range p {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// RepoPath 是相对于工作区根目录、以 "/" 分隔的路径
type RepoPath string

func (p RepoPath) String() string { return string(p) }
