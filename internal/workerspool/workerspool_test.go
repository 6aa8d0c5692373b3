package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_WaitToStart(t *testing.T) {
	const maxParallelism = 3
	const numTasks = 20
	pool := New(maxParallelism)
	require.Equal(t, maxParallelism, pool.MaxParallelism())

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numTasks)
	for range numTasks {
		pool.WaitToStart(func() {
			defer wg.Done()
			current := running.Add(1)
			for {
				seen := maxRunning.Load()
				if current <= seen || maxRunning.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxRunning.Load()), maxParallelism)
	assert.Greater(t, int(maxRunning.Load()), 0)
}

func TestPool_WaitToStartBlocks(t *testing.T) {
	pool := New(1)
	release := make(chan struct{})
	pool.WaitToStart(func() { <-release })

	// The second task can only start once the first finishes.
	started := make(chan struct{})
	go pool.WaitToStart(func() { close(started) })
	select {
	case <-started:
		t.Fatal("Task started while the pool was full.")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for task to run.")
	}
}

func TestPool_DefaultParallelism(t *testing.T) {
	assert.Greater(t, New(0).MaxParallelism(), 0)
}
