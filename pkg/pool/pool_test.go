package pool

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tunebench/tunebench/pkg/bench"
	"github.com/tunebench/tunebench/pkg/device"
	"github.com/tunebench/tunebench/pkg/protocol"
	"github.com/tunebench/tunebench/pkg/utils"
)

func newTestPool(t *testing.T, mode string) *Pool {
	p := NewPool(testConfig(t, mode))
	t.Cleanup(p.Terminate)
	return p
}

// Clears the visibility variable for the duration of the test so that
// device enumeration is not influenced by the host environment.
func clearVisibleDevices(t *testing.T) {
	if prev, present := os.LookupEnv(device.VisibleDevicesEnv); present {
		os.Unsetenv(device.VisibleDevicesEnv)
		t.Cleanup(func() { os.Setenv(device.VisibleDevicesEnv, prev) })
	}
}

func stubDeviceCount(t *testing.T, count int) {
	prev := device.Counter
	device.Counter = func() int { return count }
	t.Cleanup(func() { device.Counter = prev })
}

func TestPoolInitialize(t *testing.T) {
	p := newTestPool(t, "loop")

	assert.NoError(t, p.Initialize())
	assert.Equal(t, 1, p.WorkerCount())
	assert.Equal(t, []int{device.Agnostic}, p.Devices())

	// Idempotent
	assert.NoError(t, p.Initialize())
	assert.Equal(t, 1, p.WorkerCount())
}

func TestPoolInitializeMultiDevice(t *testing.T) {
	clearVisibleDevices(t)
	stubDeviceCount(t, 3)

	p := newTestPool(t, "loop")
	p.config.MultiDevice = true

	assert.NoError(t, p.Initialize())
	assert.Equal(t, 3, p.WorkerCount())
	assert.Equal(t, []int{0, 1, 2}, p.Devices())

	// Every worker completed its handshake and sits in the idle
	// collection.
	assert.Len(t, p.idle, 3)
	for _, w := range p.workers {
		assert.True(t, w.Valid())
	}
}

func TestPoolInitializeHandshakeFailure(t *testing.T) {
	// Stubborn workers never answer the ping; with an unbounded
	// handshake wait the failure must come from the spawn itself, so
	// use a nonexistent executable instead.
	config := testConfig(t, "loop")
	config.WorkerExecutable = "/nonexistent/worker/binary"

	p := NewPool(config)
	t.Cleanup(p.Terminate)

	assert.Error(t, p.Initialize())
	assert.Equal(t, 0, p.WorkerCount())
}

func TestPoolBenchmark(t *testing.T) {
	p := newTestPool(t, "loop")
	assert.NoError(t, p.Initialize())

	items := []protocol.BenchmarkRequest{
		&bench.LocalRequest{Value: 1},
		&bench.LocalRequest{Value: 2},
		&bench.LocalRequest{Value: 3},
	}

	results, err := p.Benchmark(items)
	assert.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 1.0, results[items[0]])
	assert.Equal(t, 2.0, results[items[1]])
	assert.Equal(t, 3.0, results[items[2]])
}

func TestPoolBenchmarkNotInitialized(t *testing.T) {
	p := newTestPool(t, "loop")

	_, err := p.Benchmark([]protocol.BenchmarkRequest{&bench.LocalRequest{Value: 1}})
	assert.ErrorIs(t, err, utils.ErrBadRequest)
}

func TestPoolDispatchAlwaysReturnsWorker(t *testing.T) {
	p := newTestPool(t, "loop")
	assert.NoError(t, p.Initialize())

	idleBefore := len(p.idle)

	// Success path
	value := p.target(&bench.LocalRequest{Value: 7})
	assert.Equal(t, 7.0, value)
	assert.Len(t, p.idle, idleBefore)

	// Crash path
	value = p.target(&bench.LocalRequest{Fail: true})
	assert.True(t, math.IsInf(value, 1))
	assert.Len(t, p.idle, idleBefore)

	// The crashed worker respawns on its next use.
	value = p.target(&bench.LocalRequest{Value: 8})
	assert.Equal(t, 8.0, value)
	assert.Len(t, p.idle, idleBefore)

	assert.Equal(t, int64(1), p.Stats.Crashes.Load())
	assert.Equal(t, int64(1), p.Stats.Respawns.Load())
	assert.Equal(t, int64(2), p.Stats.Completed.Load())
}

func TestPoolBenchmarkWithStuckItem(t *testing.T) {
	p := newTestPool(t, "loop")
	assert.NoError(t, p.Initialize())

	// One item never completes within the result timeout; the batch
	// must still produce a full result mapping.
	items := []protocol.BenchmarkRequest{
		&bench.LocalRequest{Value: 1},
		&bench.LocalRequest{Value: 2},
		&bench.LocalRequest{Value: 3, Delay: time.Minute},
		&bench.LocalRequest{Value: 4},
		&bench.LocalRequest{Value: 5},
	}

	results, err := p.Benchmark(items)
	assert.NoError(t, err)
	assert.Len(t, results, 5)

	assert.Equal(t, 1.0, results[items[0]])
	assert.Equal(t, 2.0, results[items[1]])
	assert.True(t, math.IsInf(results[items[2]], 1))
	assert.Equal(t, 4.0, results[items[3]])
	assert.Equal(t, 5.0, results[items[4]])

	assert.Equal(t, int64(1), p.Stats.Timeouts.Load())
}

func TestPoolTerminateTwice(t *testing.T) {
	p := newTestPool(t, "loop")
	assert.NoError(t, p.Initialize())

	p.Terminate()
	assert.Equal(t, 0, p.WorkerCount())

	// Second terminate is a no-op.
	p.Terminate()
}

func TestPoolTerminateNeverInitialized(t *testing.T) {
	p := newTestPool(t, "loop")
	p.Terminate()
}

func TestPoolReinitializeAfterTerminate(t *testing.T) {
	p := newTestPool(t, "loop")

	assert.NoError(t, p.Initialize())
	p.Terminate()

	assert.NoError(t, p.Initialize())
	assert.Equal(t, 1, p.WorkerCount())

	results, err := p.Benchmark([]protocol.BenchmarkRequest{&bench.LocalRequest{Value: 9}})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
}
