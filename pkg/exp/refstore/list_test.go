package refstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_NewestFirstAcrossPages(t *testing.T) {
	e := setupEnv(t, WithPageSize(2))
	ctx := context.Background()
	base := e.baseline(t)

	var want []string
	for i := range 5 {
		exp, err := e.store.Commit(ctx, e.snap(t, map[string]string{"i": fmt.Sprint(i)}), base, CommitOptions{Name: fmt.Sprintf("exp-%d", i)})
		require.NoError(t, err)
		want = append([]string{exp.Name}, want...)
	}

	seq := e.store.List(ctx, ListOptions{Baseline: base})
	got, err := Collect(seq)
	require.NoError(t, err)
	var names []string
	for _, exp := range got {
		names = append(names, exp.Name)
	}
	assert.Equal(t, want, names)

	// 同一个序列可以重复迭代
	again, err := Collect(seq)
	require.NoError(t, err)
	assert.Len(t, again, 5)
}

func TestList_EarlyBreak(t *testing.T) {
	e := setupEnv(t, WithPageSize(2))
	ctx := context.Background()
	base := e.baseline(t)
	for i := range 5 {
		_, err := e.store.Commit(ctx, e.snap(t, map[string]string{"i": fmt.Sprint(i)}), base, CommitOptions{})
		require.NoError(t, err)
	}

	n := 0
	for exp, err := range e.store.List(ctx, ListOptions{Baseline: base}) {
		require.NoError(t, err)
		require.NotNil(t, exp)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestList_BaselineFilter(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	base1 := e.baseline(t)
	base2 := mockHash("another-baseline")

	_, err := e.store.Commit(ctx, e.snap(t, map[string]string{"a": "1"}), base1, CommitOptions{Name: "one"})
	require.NoError(t, err)
	_, err = e.store.Commit(ctx, e.snap(t, map[string]string{"a": "2"}), base2, CommitOptions{Name: "two"})
	require.NoError(t, err)

	got, err := Collect(e.store.List(ctx, ListOptions{Baseline: base1}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Name)

	got, err = Collect(e.store.List(ctx, ListOptions{All: true}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Name)

	got, err = Collect(e.store.List(ctx, ListOptions{}))
	require.NoError(t, err)
	assert.Empty(t, got, "没有基线时不列出任何实验")
}

func TestList_AliasListedOnceUnderCanonicalName(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	base := e.baseline(t)
	s := e.snap(t, map[string]string{"a": "1"})

	auto, err := e.store.Commit(ctx, s, base, CommitOptions{})
	require.NoError(t, err)
	_, err = e.store.Commit(ctx, s, base, CommitOptions{Name: "keeper"})
	require.NoError(t, err)
	other, err := e.store.Commit(ctx, e.snap(t, map[string]string{"a": "2"}), base, CommitOptions{Name: "other"})
	require.NoError(t, err)

	for _, opts := range []ListOptions{{Baseline: base}, {All: true}} {
		got, err := Collect(e.store.List(ctx, opts))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, other.Name, got[0].Name)
		assert.Equal(t, auto.Name, got[1].Name, "别名折叠为最早登记的名称")
		assert.Equal(t, auto.Ref, got[1].Ref)
	}

	// 别名仍可单独解析
	exp, _, err := e.store.Resolve(ctx, base, "keeper")
	require.NoError(t, err)
	assert.Equal(t, auto.Ref, exp.Ref)
}
