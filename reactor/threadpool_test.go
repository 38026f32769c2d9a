package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadPoolRoundRobin(t *testing.T) {
	base := newRunningLoop(t)
	pool := NewEventLoopThreadPool(base)
	require.NoError(t, pool.Start(3))
	t.Cleanup(pool.Stop)

	seen := map[uint64]int{}
	for i := 0; i < 9; i++ {
		seen[pool.GetNextLoop().ID()]++
	}
	assert.Len(t, seen, 3)
	for _, n := range seen {
		assert.Equal(t, 3, n)
	}
}

func TestThreadPoolZeroWorkersUsesBaseLoop(t *testing.T) {
	base := newRunningLoop(t)
	pool := NewEventLoopThreadPool(base)
	require.NoError(t, pool.Start(0))
	assert.Equal(t, base, pool.GetNextLoop())
	assert.Equal(t, base, pool.GetLoopForHash(42))
}

func TestGetLoopForHashUsesModuloNotBitwiseAnd(t *testing.T) {
	base := newRunningLoop(t)
	pool := NewEventLoopThreadPool(base)
	// 3 is not a power of two: ANDing with the pool size (hash & 3) would
	// yield index 3 for some hashes, past the end of a three-loop pool.
	require.NoError(t, pool.Start(3))
	t.Cleanup(pool.Stop)

	selected := map[uint64]bool{}
	for hash := 0; hash < 30; hash++ {
		selected[pool.GetLoopForHash(hash).ID()] = true
	}
	assert.Len(t, selected, 3)
}
