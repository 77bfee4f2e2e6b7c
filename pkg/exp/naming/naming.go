// Package naming 生成并解析实验名称
//
// 实验引用保存在隐藏命名空间 refs/exps/<baseline[:2]>/<baseline[2:]>/<name> 下，
// 名称只在同一个基线提交下唯一。
package naming

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"expvault/pkg/exp/experr"
	"expvault/pkg/meta"
	"expvault/pkg/types"
)

const (
	RefPrefix = "refs/exps/"

	// DefaultMaxSuffix 自动命名最多尝试 name, name-2 ... name-16
	DefaultMaxSuffix = 16

	minPrefixLen = 4
)

// Entry 是命名空间中的一条实验引用
type Entry struct {
	Name      string
	Baseline  types.Hash
	Ref       types.Hash
	RefName   string
	CreatedAt time.Time
}

// Lookup 是 Namer 需要的只读引用查询，*meta.Repository 实现了它
type Lookup interface {
	GetRef(ctx context.Context, name string) (*meta.Ref, error)
	ListRefs(ctx context.Context, q meta.RefQuery) ([]meta.Ref, error)
}

type Namer struct {
	refs      Lookup
	maxSuffix int
}

func NewNamer(refs Lookup, maxSuffix int) *Namer {
	if maxSuffix < 1 {
		maxSuffix = DefaultMaxSuffix
	}
	return &Namer{refs: refs, maxSuffix: maxSuffix}
}

// RefName 返回实验在隐藏命名空间中的完整键
func RefName(baseline types.Hash, name string) string {
	b := string(baseline)
	return RefPrefix + b[:2] + "/" + b[2:] + "/" + name
}

// BaselinePrefix 返回某个基线下所有实验的公共前缀
func BaselinePrefix(baseline types.Hash) string {
	b := string(baseline)
	return RefPrefix + b[:2] + "/" + b[2:] + "/"
}

// ParseRefName 是 RefName 的逆运算
func ParseRefName(ref string) (types.Hash, string, bool) {
	rest, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || len(parts[0]) != 2 || parts[2] == "" {
		return "", "", false
	}
	baseline := types.Hash(parts[0] + parts[1])
	if !baseline.IsValid() {
		return "", "", false
	}
	return baseline, parts[2], true
}

// EntryFromRef 把命名空间中的一行转换为 Entry
func EntryFromRef(r meta.Ref) (Entry, bool) {
	baseline, name, ok := ParseRefName(r.Name)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Name:      name,
		Baseline:  baseline,
		Ref:       types.Hash(r.CommitHash),
		RefName:   r.Name,
		CreatedAt: time.Unix(0, r.CreatedNano),
	}, true
}

// BaseName 把引用字节渲染为 "形容词-名词"
func BaseName(ref types.Hash) string {
	raw, err := hex.DecodeString(string(ref))
	if err != nil || len(raw) < 4 {
		// 非法 Hash 不会进入这里，兜底保证确定性
		raw = []byte(string(ref) + "\x00\x00\x00\x00")
	}
	adj := binary.BigEndian.Uint16(raw[0:2]) % uint16(len(adjectives))
	noun := binary.BigEndian.Uint16(raw[2:4]) % uint16(len(nouns))
	return adjectives[adj] + "-" + nouns[noun]
}

// Candidates 返回有界且确定的候选名称序列
func (n *Namer) Candidates(ref types.Hash) []string {
	base := BaseName(ref)
	out := make([]string, 0, n.maxSuffix)
	out = append(out, base)
	for i := 2; i <= n.maxSuffix; i++ {
		out = append(out, fmt.Sprintf("%s-%d", base, i))
	}
	return out
}

// Generate 返回基线下第一个空闲 (或已指向 ref) 的候选名称
func (n *Namer) Generate(ctx context.Context, baseline, ref types.Hash) (string, error) {
	for _, cand := range n.Candidates(ref) {
		r, err := n.refs.GetRef(ctx, RefName(baseline, cand))
		if errors.Is(err, meta.ErrRefNotFound) {
			return cand, nil
		}
		if err != nil {
			return "", err
		}
		if types.Hash(r.CommitHash) == ref {
			return cand, nil
		}
	}
	return "", experr.NameCollision(BaseName(ref))
}

// Validate 按 git 引用分量的规则校验用户给出的名称
func Validate(name string) error {
	switch {
	case name == "":
		return experr.InvalidName(name, "name is empty")
	case strings.ContainsAny(name, "/\\~^:?*[ \t\n"):
		return experr.InvalidName(name, "contains a forbidden character")
	case strings.Contains(name, ".."), strings.Contains(name, "@{"):
		return experr.InvalidName(name, "contains a forbidden sequence")
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "."):
		return experr.InvalidName(name, "must not start with '-' or '.'")
	case strings.HasSuffix(name, ".lock"), strings.HasSuffix(name, "."):
		return experr.InvalidName(name, "must not end with '.lock' or '.'")
	case name == "@":
		return experr.InvalidName(name, "'@' is reserved")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return experr.InvalidName(name, "contains a control character")
		}
	}
	return nil
}

// ValidateBranch 分支名允许用 "/" 分层，每一层按 Validate 校验
func ValidateBranch(name string) error {
	if name == "" {
		return experr.InvalidName(name, "name is empty")
	}
	for part := range strings.SplitSeq(name, "/") {
		if err := Validate(part); err != nil {
			return experr.InvalidName(name, "invalid component "+strconv.Quote(part))
		}
	}
	return nil
}

// Resolve 依次尝试：完整引用名、实验名 (当前基线优先)、引用 Hash 或其唯一前缀
func (n *Namer) Resolve(ctx context.Context, baseline types.Hash, s string) (Entry, error) {
	if strings.HasPrefix(s, RefPrefix) {
		return n.resolveRefName(ctx, s)
	}

	if Validate(s) == nil {
		e, err := n.resolveName(ctx, baseline, s)
		if err == nil || !errors.Is(err, experr.ErrReferenceNotFound) {
			return e, err
		}
	}

	if len(s) >= minPrefixLen && types.HashPrefix(s).IsHex() {
		return n.resolveHash(ctx, baseline, s)
	}
	return Entry{}, experr.NotFound(s)
}

func (n *Namer) resolveRefName(ctx context.Context, ref string) (Entry, error) {
	r, err := n.refs.GetRef(ctx, ref)
	if errors.Is(err, meta.ErrRefNotFound) {
		return Entry{}, experr.NotFound(ref)
	}
	if err != nil {
		return Entry{}, err
	}
	e, ok := EntryFromRef(*r)
	if !ok {
		return Entry{}, experr.NotFound(ref)
	}
	return e, nil
}

func (n *Namer) resolveName(ctx context.Context, baseline types.Hash, name string) (Entry, error) {
	if baseline.IsValid() {
		e, err := n.resolveRefName(ctx, RefName(baseline, name))
		if err == nil || !errors.Is(err, experr.ErrReferenceNotFound) {
			return e, err
		}
	}

	refs, err := n.refs.ListRefs(ctx, meta.RefQuery{Namespace: meta.NamespaceExps, Suffix: "/" + name})
	if err != nil {
		return Entry{}, err
	}
	var found []Entry
	for _, r := range refs {
		if e, ok := EntryFromRef(r); ok && e.Name == name {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return Entry{}, experr.NotFound(name)
	case 1:
		return found[0], nil
	}
	candidates := make([]string, len(found))
	for i, e := range found {
		candidates[i] = e.RefName
	}
	return Entry{}, experr.Ambiguous(name, candidates)
}

func (n *Namer) resolveHash(ctx context.Context, baseline types.Hash, prefix string) (Entry, error) {
	refs, err := n.refs.ListRefs(ctx, meta.RefQuery{
		Namespace:    meta.NamespaceExps,
		CommitPrefix: strings.ToLower(prefix),
	})
	if err != nil {
		return Entry{}, err
	}

	var entries []Entry
	commits := map[types.Hash]bool{}
	for _, r := range refs {
		if e, ok := EntryFromRef(r); ok {
			entries = append(entries, e)
			commits[e.Ref] = true
		}
	}
	if len(entries) == 0 {
		return Entry{}, experr.NotFound(prefix)
	}
	if len(commits) > 1 {
		var candidates []string
		for c := range commits {
			candidates = append(candidates, c.Short())
		}
		sort.Strings(candidates)
		return Entry{}, experr.Ambiguous(prefix, candidates)
	}
	return Canonical(entries, baseline), nil
}

// Canonical 从指向同一提交的多个条目中挑出规范名称：当前基线优先，其次最早写入的
func Canonical(entries []Entry, baseline types.Hash) Entry {
	best := entries[0]
	for _, e := range entries[1:] {
		if (e.Baseline == baseline) != (best.Baseline == baseline) {
			if e.Baseline == baseline {
				best = e
			}
			continue
		}
		if e.CreatedAt.Before(best.CreatedAt) {
			best = e
		}
	}
	return best
}
