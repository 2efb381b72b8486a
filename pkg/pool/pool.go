package pool

import (
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"github.com/tunebench/tunebench/pkg/device"
	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/protocol"
	"github.com/tunebench/tunebench/pkg/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Statistics counters exposed on the status endpoint.
type Stats struct {
	Dispatched atomic.Int64
	Completed  atomic.Int64
	Timeouts   atomic.Int64
	Crashes    atomic.Int64
	Respawns   atomic.Int64
}

// Pool maintains one Worker per device and benchmarks work items in
// those subprocesses, so that a crashing or hanging candidate kernel
// cannot take down the parent process.
type Pool struct {
	mu     sync.Mutex
	config *Config

	// Idle workers, taken and returned by dispatcher goroutines.
	idle chan *Worker

	// All workers in circulation, for shutdown.
	workers []*Worker

	dispatch *dispatchGroup

	Stats Stats
}

func NewPool(config *Config) *Pool {
	return &Pool{config: config}
}

// One-shot guard for the process-exit hook. The first initialized pool
// registers a signal handler that tears down its workers; subsequent
// pools rely on explicit Terminate.
var exitHookOnce sync.Once

func registerExitHook(p *Pool) {
	exitHookOnce.Do(func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, unix.SIGTERM)
		go func() {
			sig := <-c
			log.Warnf("Received %v, terminating worker pool", sig)
			p.Terminate()
			os.Exit(1)
		}()
	})
}

// Initialize enumerates devices, spawns one worker per device and
// waits for every worker to acknowledge the startup handshake. No-op
// if the pool is already initialized. A worker that never completes
// its handshake fails the whole initialization.
func (p *Pool) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle != nil {
		return nil
	}

	if err := p.config.Validate(); err != nil {
		return err
	}

	devices, err := device.List(p.config.MultiDevice)
	if err != nil {
		return err
	}
	log.Debugf("Benchmark pool device list: %v", devices)

	// Spawn serially; the device visibility environment is mutated
	// around each spawn and must not be touched concurrently.
	workers := make([]*Worker, 0, len(devices))
	for _, dev := range devices {
		w := NewWorker(dev, p.config)
		w.onRespawn = func() { p.Stats.Respawns.Add(1) }

		if err := w.Initialize(); err != nil {
			p.killAll(workers)
			return err
		}
		if err := w.Put(protocol.Ping()); err != nil {
			p.killAll(append(workers, w))
			return err
		}
		workers = append(workers, w)
	}

	// Wait for every handshake to complete. The wait is unbounded:
	// a worker that cannot boot should surface as a startup failure,
	// not be silently carried as broken.
	var group errgroup.Group
	for _, w := range workers {
		w := w
		group.Go(func() error {
			msg, err := w.Get(0, p.config.GracefulTimeout, p.config.TerminateTimeout)
			if err != nil {
				return fmt.Errorf("worker %s failed its startup handshake: %w", w.Id, err)
			}
			if msg.Kind != protocol.KindPong {
				return fmt.Errorf("%w: expected pong from worker %s, got %s", utils.ErrProtocol, w.Id, msg.Kind)
			}
			log.Debugf("Worker %s completed its startup handshake", w.Id)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		p.killAll(workers)
		return err
	}

	idle := make(chan *Worker, len(workers))
	for _, w := range workers {
		idle <- w
	}

	p.idle = idle
	p.workers = workers
	p.dispatch = newDispatchGroup(len(workers))

	registerExitHook(p)

	log.Infof("Benchmark pool initialized with %d workers", len(workers))
	return nil
}

func (p *Pool) killAll(workers []*Worker) {
	for _, w := range workers {
		w.Kill(p.config.GracefulTimeout, p.config.TerminateTimeout)
	}
}

// Terminate shuts down the dispatch group, then terminates and reaps
// every worker. Safe to call repeatedly, and before initialization.
func (p *Pool) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dispatch != nil {
		p.dispatch.Stop()
		p.dispatch.Wait()
		p.dispatch = nil
	}

	if p.workers != nil {
		for _, w := range p.workers {
			w.Terminate()
		}
		for _, w := range p.workers {
			w.Wait()
		}
		p.workers = nil
		p.idle = nil
		log.Info("Benchmark pool terminated")
	}
}

// target benchmarks one work item on the next idle worker. Run by a
// dispatcher goroutine. The worker is returned to the idle collection
// on every exit path; a crashed worker respawns on its next use.
//
// Timeouts and crashes are not propagated: the item is mapped to +Inf
// so one bad candidate cannot abort measurement of the rest.
func (p *Pool) target(item protocol.BenchmarkRequest) float64 {
	w := <-p.idle
	defer func() { p.idle <- w }()

	p.Stats.Dispatched.Add(1)

	value, err := p.benchmarkOn(w, item)
	if err != nil {
		if errors.Is(err, utils.ErrTimeout) {
			p.Stats.Timeouts.Add(1)
		} else {
			p.Stats.Crashes.Add(1)
		}
		log.Warnf("Failed to benchmark candidate on worker %s: %v. The candidate will be ignored.", w.Id, err)
		return math.Inf(1)
	}

	p.Stats.Completed.Add(1)
	return value
}

func (p *Pool) benchmarkOn(w *Worker, item protocol.BenchmarkRequest) (float64, error) {
	if err := w.Put(protocol.NewRequest(item)); err != nil {
		return 0, fmt.Errorf("%w: %v", utils.ErrCrash, err)
	}

	msg, err := w.Get(p.config.ResultTimeout, p.config.GracefulTimeout, p.config.TerminateTimeout)
	if err != nil {
		return 0, err
	}

	if msg.Kind != protocol.KindResult {
		// The stream is out of sync; do not trust this worker again.
		w.Kill(p.config.GracefulTimeout, p.config.TerminateTimeout)
		return 0, fmt.Errorf("%w: expected result, got %s", utils.ErrProtocol, msg.Kind)
	}

	return msg.Value, nil
}

// WorkerCount reports the number of workers in circulation.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Devices reports the device ordinals the pool's workers are bound to.
func (p *Pool) Devices() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	devices := make([]int, 0, len(p.workers))
	for _, w := range p.workers {
		devices = append(devices, w.Device)
	}
	return devices
}

// Benchmark fans the work items out across the dispatch group and
// returns one result per item. Parallelism is bounded by the worker
// count; completion order across items is not defined, the mapping is.
func (p *Pool) Benchmark(items []protocol.BenchmarkRequest) (map[protocol.BenchmarkRequest]float64, error) {
	p.mu.Lock()
	dispatch := p.dispatch
	p.mu.Unlock()

	if dispatch == nil {
		return nil, fmt.Errorf("%w: benchmark pool is not initialized", utils.ErrBadRequest)
	}

	values := make([]float64, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		accepted := dispatch.Submit(func() {
			defer wg.Done()
			values[i] = p.target(item)
		})
		if !accepted {
			values[i] = math.Inf(1)
			wg.Done()
		}
	}
	wg.Wait()

	results := make(map[protocol.BenchmarkRequest]float64, len(items))
	for i, item := range items {
		results[item] = values[i]
	}
	return results, nil
}
