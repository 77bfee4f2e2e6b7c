// Package experr 定义实验生命周期中对调用方可见的错误类型
package experr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleDependency 依赖/产出与锁文件记录不一致，可加 force 重试
	ErrStaleDependency = errors.New("stale dependencies")

	// ErrNameCollision 自动命名的消歧空间耗尽，需要显式指定名称
	ErrNameCollision = errors.New("experiment name collision unresolved")

	// ErrConcurrentModification CAS 重试耗尽，整个操作可以安全重试
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrReferenceNotFound      = errors.New("experiment reference not found")
	ErrBranchAlreadyExists    = errors.New("branch already exists")
	ErrExperimentExists       = errors.New("experiment already exists")
	ErrAmbiguousReference     = errors.New("ambiguous experiment reference")
	ErrInvalidName            = errors.New("invalid name")
	ErrNoBaseline             = errors.New("no baseline commit")
)

// Error 在错误种类之外携带出错的标识符、路径以及处理建议
type Error struct {
	Kind    error
	Subject string
	Paths   []string
	Hint    string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Subject != "" {
		fmt.Fprintf(&b, ": '%s'", e.Subject)
	}
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Paths, ", "))
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (%s)", e.Hint)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func Stale(paths []string) error {
	return &Error{
		Kind:  ErrStaleDependency,
		Paths: paths,
		Hint:  "update the lock file or pass --force to save anyway",
	}
}

func NotFound(subject string) error {
	return &Error{Kind: ErrReferenceNotFound, Subject: subject}
}

func BranchExists(branch string) error {
	return &Error{Kind: ErrBranchAlreadyExists, Subject: branch, Hint: "choose another branch name"}
}

func ExperimentExists(name string) error {
	return &Error{Kind: ErrExperimentExists, Subject: name, Hint: "pass --force to overwrite it"}
}

func NameCollision(base string) error {
	return &Error{Kind: ErrNameCollision, Subject: base, Hint: "pass an explicit name with -n"}
}

func Ambiguous(subject string, candidates []string) error {
	return &Error{Kind: ErrAmbiguousReference, Subject: subject, Paths: candidates, Hint: "use the full reference"}
}

func InvalidName(name, reason string) error {
	return &Error{Kind: ErrInvalidName, Subject: name, Hint: reason}
}

func Concurrent(subject string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrConcurrentModification, subject, cause)
}

// Paths 提取错误中携带的路径
func Paths(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Paths
	}
	return nil
}
