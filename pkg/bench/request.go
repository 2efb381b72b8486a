package bench

import (
	"fmt"
	"sync"
	"time"

	"github.com/tunebench/tunebench/pkg/device"
	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/protocol"
	"github.com/tunebench/tunebench/pkg/utils"
)

func init() {
	protocol.Register(&LocalRequest{})
	protocol.Register(&KernelRequest{})
}

// RunFunc executes the candidate kernel once.
type RunFunc func() error

// CleanupFunc releases resources acquired when binding a run function,
// e.g. an artifact loaded into the process.
type CleanupFunc func()

// RunnerFactory binds a staged artifact and materialized arguments into
// a runnable kernel invocation. Factories are registered by name and
// resolved inside the worker subprocess; only the name travels on the
// wire.
type RunnerFactory func(req *KernelRequest, artifactPath string, inputs []*Tensor, output *Tensor) (RunFunc, CleanupFunc, error)

var (
	runnersMu sync.RWMutex
	runners   = map[string]RunnerFactory{}
)

// RegisterRunner installs a runner factory. Must be called before any
// request naming the runner is benchmarked, in both parent and worker.
func RegisterRunner(name string, factory RunnerFactory) {
	runnersMu.Lock()
	defer runnersMu.Unlock()
	runners[name] = factory
}

func lookupRunner(name string) (RunnerFactory, error) {
	runnersMu.RLock()
	defer runnersMu.RUnlock()

	factory, ok := runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: no runner registered for %q", utils.ErrBadRequest, name)
	}
	return factory, nil
}

// TimerFunc measures one kernel invocation and returns the elapsed time
// in milliseconds. The default performs a warm-up call followed by a
// wall-clock measurement; drivers may install a device-event timer.
type TimerFunc func(run RunFunc) (float64, error)

var Timer TimerFunc = wallClockTimer

func wallClockTimer(run RunFunc) (float64, error) {
	// Warm-up, not measured.
	if err := run(); err != nil {
		return 0, err
	}

	start := time.Now()
	if err := run(); err != nil {
		return 0, err
	}
	return float64(time.Since(start)) / float64(time.Millisecond), nil
}

// LocalRequest is a trivial request used by tests and smoke runs. It
// reports a fixed value, optionally after a delay, or fails outright.
type LocalRequest struct {
	Value float64
	Fail  bool
	Delay time.Duration
}

func (r *LocalRequest) Benchmark() (float64, error) {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	if r.Fail {
		return 0, fmt.Errorf("%w: request configured to fail", utils.ErrBadRequest)
	}
	return r.Value, nil
}

// KernelRequest benchmarks a compiled kernel. Instances must remain
// transferable across the process boundary: tensor arguments are
// described by metadata only and the artifact travels as compressed
// bytes, never as a loaded handle.
type KernelRequest struct {
	// Symbol to invoke in the artifact.
	KernelName string

	// Name of the registered runner factory that knows how to load the
	// artifact and bind the arguments.
	Runner string

	InputMeta  []TensorMeta
	OutputMeta TensorMeta

	// Scalar launch arguments forwarded to the runner.
	ExtraArgs []int64

	// Compiled kernel image. May be nil if the runner needs none.
	Artifact *Artifact
}

func (r *KernelRequest) String() string {
	return fmt.Sprintf("kernel=%s runner=%s", r.KernelName, r.Runner)
}

func (r *KernelRequest) Benchmark() (float64, error) {
	start := time.Now()

	_, unique, output, err := MaterializeArguments(r.InputMeta, r.OutputMeta)
	if err != nil {
		return 0, err
	}
	createElapsed := time.Since(start)

	var artifactPath string
	if r.Artifact != nil {
		artifactPath, err = r.Artifact.Stage(ArtifactStore())
		if err != nil {
			return 0, err
		}
	}

	factory, err := lookupRunner(r.Runner)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	run, cleanup, err := factory(r, artifactPath, unique, output)
	if err != nil {
		return 0, err
	}
	loadElapsed := time.Since(start)

	start = time.Now()
	elapsed, err := Timer(run)
	if err != nil {
		return 0, err
	}

	// Surface any deferred execution error before reporting success.
	if err := device.Synchronize(r.OutputMeta.Device); err != nil {
		return 0, err
	}

	if cleanup != nil {
		cleanup()
	}

	log.Debugf("InChildProcess %s: load %v, create tensors %v, bench %v",
		r, loadElapsed, createElapsed, time.Since(start))
	return elapsed, nil
}

var (
	storeMu sync.Mutex
	store   *Store
)

// ArtifactStore returns the process-wide artifact store, creating the
// default one on first use.
func ArtifactStore() *Store {
	storeMu.Lock()
	defer storeMu.Unlock()

	if store == nil {
		store = DefaultStore()
	}
	return store
}

// SetArtifactStore replaces the process-wide artifact store.
func SetArtifactStore(s *Store) {
	storeMu.Lock()
	defer storeMu.Unlock()
	store = s
}
