package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRefNotFound      = errors.New("reference not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
	ErrCommitNotFound   = errors.New("commit not found in metadata")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
	// now 可在测试中替换
	now func() time.Time
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// SetClock 替换时间源，须在使用前调用
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// -----------------------------------------------------------------------------
// 1. 引用管理 (Refs)
// -----------------------------------------------------------------------------

// GetRef 获取引用的当前指向
func (r *Repository) GetRef(ctx context.Context, name string) (*Ref, error) {
	var ref Ref
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&ref).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// UpdateRef 按版本号原子更新引用
// oldVersion 为 0 表示创建；数据库里的版本号不等于 oldVersion 时返回 ErrConcurrentUpdate
func (r *Repository) UpdateRef(ctx context.Context, name string, newHash types.Hash, oldVersion int64) error {
	conn := r.db.GetConn().WithContext(ctx)
	if oldVersion == 0 {
		return r.createRef(conn, name, newHash)
	}

	// UPDATE refs SET commit_hash = ?, version = version + 1 WHERE name = ? AND version = ?
	result := conn.Model(&Ref{}).
		Where("name = ? AND version = ?", name, oldVersion).
		Updates(map[string]any{
			"commit_hash": string(newHash),
			"version":     gorm.Expr("version + 1"),
			"updated_at":  r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// CompareAndSwapRef 按取值原子更新引用
//   - expected == "": 仅当键不存在时创建
//   - next == "": 仅当当前值等于 expected 时删除
//   - 否则: 仅当当前值等于 expected 时改为 next
//
// 当前值不符时返回 ErrConcurrentUpdate；要更新/删除的键不存在时返回 ErrRefNotFound
func (r *Repository) CompareAndSwapRef(ctx context.Context, name string, expected, next types.Hash) error {
	conn := r.db.GetConn().WithContext(ctx)

	switch {
	case expected == "" && next == "":
		return fmt.Errorf("compare-and-swap on %s: expected and next are both empty", name)
	case expected == "":
		return r.createRef(conn, name, next)
	case next == "":
		result := conn.Where("name = ? AND commit_hash = ?", name, string(expected)).Delete(&Ref{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return r.casMiss(ctx, name)
		}
		return nil
	}

	result := conn.Model(&Ref{}).
		Where("name = ? AND commit_hash = ?", name, string(expected)).
		Updates(map[string]any{
			"commit_hash":  string(next),
			"version":      gorm.Expr("version + 1"),
			"created_nano": r.now().UnixNano(),
			"updated_at":   r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.casMiss(ctx, name)
	}
	return nil
}

func (r *Repository) createRef(conn *gorm.DB, name string, hash types.Hash) error {
	now := r.now()
	ref := Ref{
		Name:        name,
		Namespace:   RefNamespace(name),
		CommitHash:  string(hash),
		Version:     1,
		CreatedNano: now.UnixNano(),
		UpdatedAt:   now,
	}
	if err := conn.Create(&ref).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrentUpdate
		}
		return fmt.Errorf("failed to create ref: %w", err)
	}
	return nil
}

// casMiss 区分 "键不存在" 与 "值已被他人修改"
func (r *Repository) casMiss(ctx context.Context, name string) error {
	if _, err := r.GetRef(ctx, name); err != nil {
		return err
	}
	return ErrConcurrentUpdate
}

// isUniqueViolation 兼容 PG 与 SQLite 的唯一约束错误
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}

// RefCursor 是 ListRefs 的分页游标，指向上一页的最后一条
type RefCursor struct {
	CreatedNano int64
	Name        string
}

type RefQuery struct {
	Namespace    string // 空表示全部命名空间
	Prefix       string // 引用名前缀
	Suffix       string // 引用名后缀，例如 "/lucky-otter"
	CommitPrefix string // 指向的提交 Hash 前缀
	After        *RefCursor
	Limit        int
}

// ListRefs 按写入时间倒序 (同一时刻按名称) 枚举引用
func (r *Repository) ListRefs(ctx context.Context, q RefQuery) ([]Ref, error) {
	tx := r.db.GetConn().WithContext(ctx).Model(&Ref{})
	if q.Namespace != "" {
		tx = tx.Where("namespace = ?", q.Namespace)
	}
	if q.Prefix != "" {
		tx = tx.Where(`name LIKE ? ESCAPE '\'`, escapeLike(q.Prefix)+"%")
	}
	if q.Suffix != "" {
		tx = tx.Where(`name LIKE ? ESCAPE '\'`, "%"+escapeLike(q.Suffix))
	}
	if q.CommitPrefix != "" {
		tx = tx.Where(`commit_hash LIKE ? ESCAPE '\'`, escapeLike(q.CommitPrefix)+"%")
	}
	if q.After != nil {
		tx = tx.Where("created_nano < ? OR (created_nano = ? AND name > ?)",
			q.After.CreatedNano, q.After.CreatedNano, q.After.Name)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var refs []Ref
	err := tx.Order("created_nano DESC").Order("name ASC").Find(&refs).Error
	return refs, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FindRefsByCommit 查找指向某个提交的全部引用 (可限定命名空间)
func (r *Repository) FindRefsByCommit(ctx context.Context, hash types.Hash, namespace string) ([]Ref, error) {
	tx := r.db.GetConn().WithContext(ctx).Where("commit_hash = ?", string(hash))
	if namespace != "" {
		tx = tx.Where("namespace = ?", namespace)
	}
	var refs []Ref
	err := tx.Order("created_nano DESC").Order("name ASC").Find(&refs).Error
	return refs, err
}

// -----------------------------------------------------------------------------
// 2. 提交索引 (Commit Indexing)
// -----------------------------------------------------------------------------

// IndexCommit 将 core.Commit 投影到 SQL 数据库中
func (r *Repository) IndexCommit(ctx context.Context, c *core.Commit) error {
	return r.IndexCommitWithMeta(ctx, c, nil)
}

// IndexCommitWithMeta 同 IndexCommit，并附带任意元数据
// 同一个 Hash 只会被索引一次 (幂等)
func (r *Repository) IndexCommitWithMeta(ctx context.Context, c *core.Commit, meta map[string]any) error {
	parentsJSON, err := json.Marshal(c.ParentHashes())
	if err != nil {
		return fmt.Errorf("failed to marshal parents: %w", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	createdAt := r.now()
	if c.Timestamp > 0 {
		createdAt = time.Unix(c.Timestamp, 0)
	}
	model := CommitModel{
		Hash:      string(c.ID()),
		Author:    c.Author,
		Message:   c.Message,
		Timestamp: c.Timestamp,
		TreeHash:  string(c.TreeCid.Hash),
		Parents:   datatypes.JSON(parentsJSON),
		Meta:      datatypes.JSON(metaJSON),
		CreatedAt: createdAt,
	}
	if c.Manifest != nil {
		model.ManifestHash = string(c.Manifest.Hash)
	}

	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index commit: %w", err)
	}
	return nil
}

func (r *Repository) GetCommit(ctx context.Context, hash types.Hash) (*CommitModel, error) {
	var commit CommitModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", string(hash)).
		First(&commit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommitNotFound
	}
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// FindCommitsByAuthor 只返回主线提交：实验快照没有时间戳
// limit <= 0 表示不限制
func (r *Repository) FindCommitsByAuthor(ctx context.Context, author string, limit int) ([]CommitModel, error) {
	var commits []CommitModel
	tx := r.db.GetConn().WithContext(ctx).
		Where("author = ? AND timestamp > 0", author).
		Order("timestamp DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&commits).Error
	return commits, err
}

// FindCommitsByMeta 按元数据字段精确匹配，例如 ("baseline", "ab12...")
func (r *Repository) FindCommitsByMeta(ctx context.Context, key string, value any, limit int) ([]CommitModel, error) {
	var commits []CommitModel
	tx := r.db.GetConn().WithContext(ctx).
		Where(datatypes.JSONQuery("meta").Equals(value, key)).
		Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&commits).Error
	return commits, err
}

// -----------------------------------------------------------------------------
// 3. 文件索引 (秒传)
// -----------------------------------------------------------------------------

// GetFileIndex 未命中时返回 (nil, nil)
func (r *Repository) GetFileIndex(ctx context.Context, linear types.LinearHash) (*FileIndex, error) {
	var idx FileIndex
	err := r.db.GetConn().WithContext(ctx).
		Where("linear_hash = ?", string(linear)).
		First(&idx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

// SaveFileIndex 先写者胜，已存在的映射不会被覆盖
func (r *Repository) SaveFileIndex(ctx context.Context, linear types.LinearHash, root types.Hash, size int64) error {
	idx := FileIndex{
		LinearHash: string(linear),
		MerkleRoot: string(root),
		SizeBytes:  size,
		CreatedAt:  r.now(),
	}
	return r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&idx).Error
}
