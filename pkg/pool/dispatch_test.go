package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchGroup(t *testing.T) {
	numTasks := 1000

	group := newDispatchGroup(4)

	var mu sync.Mutex
	results := make(map[int]struct{})

	for i := 0; i < numTasks; i++ {
		n := i
		accepted := group.Submit(func() {
			mu.Lock()
			results[n] = struct{}{}
			mu.Unlock()
		})
		assert.True(t, accepted)
	}

	group.Wait()
	assert.Len(t, results, numTasks)

	group.Stop()
}

func TestDispatchGroupBoundedParallelism(t *testing.T) {
	dispatchers := 3
	group := newDispatchGroup(dispatchers)
	defer group.Stop()

	var running, peak atomic.Int64

	for i := 0; i < 30; i++ {
		group.Submit(func() {
			now := running.Add(1)
			for {
				prev := peak.Load()
				if now <= prev || peak.CompareAndSwap(prev, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}

	group.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(dispatchers))
}

func TestDispatchGroupRejectsAfterStop(t *testing.T) {
	group := newDispatchGroup(2)
	group.Stop()

	accepted := group.Submit(func() {})
	assert.False(t, accepted)

	group.Wait()
}
