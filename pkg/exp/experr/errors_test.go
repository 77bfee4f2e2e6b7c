package experr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("save: %w", Stale([]string{"data/raw.csv", "model.bin"}))

	assert.ErrorIs(t, err, ErrStaleDependency)
	assert.NotErrorIs(t, err, ErrNameCollision)
	assert.Equal(t, []string{"data/raw.csv", "model.bin"}, Paths(err))
	assert.Contains(t, err.Error(), "data/raw.csv, model.bin")
	assert.Contains(t, err.Error(), "--force")
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		want string
	}{
		{NotFound("exp-1"), ErrReferenceNotFound, "experiment reference not found: 'exp-1'"},
		{BranchExists("main"), ErrBranchAlreadyExists, "branch already exists: 'main' (choose another branch name)"},
		{InvalidName("a b", "contains whitespace"), ErrInvalidName, "invalid name: 'a b' (contains whitespace)"},
		{Concurrent("refs/exps/x", errors.New("lost")), ErrConcurrentModification, "concurrent modification: refs/exps/x: lost"},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.kind)
		assert.Equal(t, tt.want, tt.err.Error())
	}
	assert.Nil(t, Paths(errors.New("plain")))
}
