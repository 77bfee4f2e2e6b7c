package chunker

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunker_Deterministic(t *testing.T) {
	// 100KB 随机数据，AvgSize=8KB，大概切成 12-13 块
	data := make([]byte, 100*1024)
	_, _ = rand.Read(data)

	c := NewChunker()

	cuts1 := c.Cut(data)
	assert.NotEmpty(t, cuts1)
	assert.Equal(t, len(data), cuts1[len(cuts1)-1], "最后一块必须结束于文件末尾")

	cuts2 := c.Cut(data)
	assert.Equal(t, cuts1, cuts2, "对于相同数据，切分点必须完全一致")
}

func TestChunker_MinMaxConstraints(t *testing.T) {
	data := make([]byte, 200*1024)
	c := NewChunker()
	cuts := c.Cut(data)

	start := 0
	for i, end := range cuts {
		size := end - start

		// 最后一块可能小于 MinSize，这是允许的
		if i < len(cuts)-1 {
			assert.GreaterOrEqual(t, size, MinSize, "Chunk %d size %d too small", i, size)
		}
		assert.LessOrEqual(t, size, MaxSize, "Chunk %d size %d too large", i, size)

		start = end
	}
	assert.Equal(t, len(data), start)
}

func TestChunker_SmallInputs(t *testing.T) {
	c := NewChunker()

	assert.Nil(t, c.Cut(nil))
	assert.Equal(t, []int{5}, c.Cut([]byte("hello")))
	assert.Equal(t, []int{MinSize}, c.Cut(make([]byte, MinSize)))
}
