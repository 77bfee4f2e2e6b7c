package naming

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"expvault/pkg/exp/experr"
	"expvault/pkg/meta"
	"expvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

func setupRepo(t *testing.T) *meta.Repository {
	t.Helper()
	db, err := meta.NewDB(context.Background(), meta.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "meta.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return meta.NewRepository(db)
}

func TestRefName_RoundTrip(t *testing.T) {
	baseline := mockHash("baseline")
	ref := RefName(baseline, "lucky-otter")
	assert.Equal(t, "refs/exps/"+string(baseline[:2])+"/"+string(baseline[2:])+"/lucky-otter", ref)

	b, name, ok := ParseRefName(ref)
	require.True(t, ok)
	assert.Equal(t, baseline, b)
	assert.Equal(t, "lucky-otter", name)

	for _, bad := range []string{"refs/heads/main", "refs/exps/ab/lucky", "refs/exps/abc/def/x", "refs/exps/ab/zz/x"} {
		_, _, ok := ParseRefName(bad)
		assert.False(t, ok, bad)
	}
}

func TestBaseName_Deterministic(t *testing.T) {
	ref := mockHash("commit-1")
	assert.Equal(t, BaseName(ref), BaseName(ref))
	assert.Regexp(t, `^[a-z]+-[a-z]+$`, BaseName(ref))

	n := NewNamer(nil, 3)
	assert.Equal(t, []string{BaseName(ref), BaseName(ref) + "-2", BaseName(ref) + "-3"}, n.Candidates(ref))
}

func TestGenerate_Disambiguates(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	baseline := mockHash("baseline")
	ref := mockHash("commit-1")
	n := NewNamer(repo, 3)
	base := BaseName(ref)

	name, err := n.Generate(ctx, baseline, ref)
	require.NoError(t, err)
	assert.Equal(t, base, name)

	// 已指向同一个 ref 的名称原样返回
	require.NoError(t, repo.CompareAndSwapRef(ctx, RefName(baseline, base), "", ref))
	name, err = n.Generate(ctx, baseline, ref)
	require.NoError(t, err)
	assert.Equal(t, base, name)

	// 别的 ref 占用了 base，追加后缀
	other := mockHash("commit-2")
	name, err = n.Generate(ctx, baseline, other)
	require.NoError(t, err)
	if BaseName(other) == base {
		assert.Equal(t, base+"-2", name)
	} else {
		assert.Equal(t, BaseName(other), name)
	}

	// 不同基线互不影响
	name, err = n.Generate(ctx, mockHash("other-baseline"), mockHash("commit-3"))
	require.NoError(t, err)
	assert.Equal(t, BaseName(mockHash("commit-3")), name)
}

func TestGenerate_Exhausted(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	baseline := mockHash("baseline")
	ref := mockHash("wanted")
	n := NewNamer(repo, 3)

	for i, cand := range n.Candidates(ref) {
		require.NoError(t, repo.CompareAndSwapRef(ctx, RefName(baseline, cand), "", mockHash(fmt.Sprint("taken", i))))
	}

	_, err := n.Generate(ctx, baseline, ref)
	assert.ErrorIs(t, err, experr.ErrNameCollision)
}

func TestValidate(t *testing.T) {
	valid := []string{"exp1", "lucky-otter", "lr_0.01", "v2.final"}
	for _, name := range valid {
		assert.NoError(t, Validate(name), name)
	}

	invalid := []string{"", "a/b", "a b", "a..b", "-x", ".hidden", "x.lock", "x.", "a~1", "a^", "a:b", "a?", "a*", "a[", `a\b`, "a@{1}", "@", "tab\there"}
	for _, name := range invalid {
		err := Validate(name)
		assert.ErrorIs(t, err, experr.ErrInvalidName, "%q", name)
	}
}

func TestValidateBranch(t *testing.T) {
	assert.NoError(t, ValidateBranch("feature/tuned-lr"))
	assert.NoError(t, ValidateBranch("main"))
	for _, name := range []string{"", "a//b", "/a", "a/", "a/.x", "a b/c"} {
		assert.ErrorIs(t, ValidateBranch(name), experr.ErrInvalidName, "%q", name)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	n := NewNamer(repo, DefaultMaxSuffix)

	base1 := mockHash("baseline-1")
	base2 := mockHash("baseline-2")
	refA := mockHash("exp-a")
	refB := mockHash("exp-b")

	require.NoError(t, repo.CompareAndSwapRef(ctx, RefName(base1, "alpha"), "", refA))
	require.NoError(t, repo.CompareAndSwapRef(ctx, RefName(base1, "shared"), "", refA))
	require.NoError(t, repo.CompareAndSwapRef(ctx, RefName(base2, "shared"), "", refB))
	require.NoError(t, repo.CompareAndSwapRef(ctx, RefName(base2, "beta"), "", refB))

	t.Run("full ref name", func(t *testing.T) {
		e, err := n.Resolve(ctx, "", RefName(base2, "beta"))
		require.NoError(t, err)
		assert.Equal(t, refB, e.Ref)
		assert.Equal(t, "beta", e.Name)
		assert.Equal(t, base2, e.Baseline)
	})

	t.Run("name under current baseline wins", func(t *testing.T) {
		e, err := n.Resolve(ctx, base1, "shared")
		require.NoError(t, err)
		assert.Equal(t, refA, e.Ref)

		e, err = n.Resolve(ctx, base2, "shared")
		require.NoError(t, err)
		assert.Equal(t, refB, e.Ref)
	})

	t.Run("name under another baseline", func(t *testing.T) {
		e, err := n.Resolve(ctx, base1, "beta")
		require.NoError(t, err)
		assert.Equal(t, refB, e.Ref)
	})

	t.Run("ambiguous name", func(t *testing.T) {
		_, err := n.Resolve(ctx, mockHash("unrelated"), "shared")
		assert.ErrorIs(t, err, experr.ErrAmbiguousReference)
	})

	t.Run("hash and prefix", func(t *testing.T) {
		e, err := n.Resolve(ctx, base1, string(refA))
		require.NoError(t, err)
		assert.Equal(t, refA, e.Ref)

		e, err = n.Resolve(ctx, base2, string(refB[:8]))
		require.NoError(t, err)
		assert.Equal(t, refB, e.Ref)
		assert.Equal(t, base2, e.Baseline)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := n.Resolve(ctx, base1, "missing")
		assert.ErrorIs(t, err, experr.ErrReferenceNotFound)

		_, err = n.Resolve(ctx, base1, RefName(base1, "missing"))
		assert.ErrorIs(t, err, experr.ErrReferenceNotFound)

		_, err = n.Resolve(ctx, base1, "abc")
		assert.ErrorIs(t, err, experr.ErrReferenceNotFound)
	})
}

func TestCanonical(t *testing.T) {
	base := mockHash("b")
	entries := []Entry{
		{Name: "late-local", Baseline: base, CreatedAt: unix(30)},
		{Name: "foreign", Baseline: mockHash("other"), CreatedAt: unix(10)},
		{Name: "early-local", Baseline: base, CreatedAt: unix(20)},
	}
	assert.Equal(t, "early-local", Canonical(entries, base).Name)
	assert.Equal(t, "foreign", Canonical(entries, mockHash("nobody")).Name)
}

func unix(sec int64) time.Time { return time.Unix(sec, 0) }
