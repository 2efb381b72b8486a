package pool

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tunebench/tunebench/pkg/device"
	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/protocol"
	"github.com/tunebench/tunebench/pkg/utils"
	"golang.org/x/sys/unix"
)

// Granularity of the response wait. Short slices let worker death be
// detected promptly instead of only after the full timeout.
const pollInterval = 500 * time.Millisecond

// Worker owns one benchmarking subprocess with affinity to a single
// device. Requests are written to the child's stdin, responses read
// from its stdout; stderr passes through to the parent for logging.
//
// The process handle and both channel ends are either all set or all
// unset. A cleared worker is respawned transparently on the next Put.
type Worker struct {
	// UUID identity of the worker, used in logs.
	Id string

	// Device ordinal this worker is bound to, or device.Agnostic.
	Device int

	config *Config

	cmd      *exec.Cmd
	requests *protocol.Encoder
	stdin    io.WriteCloser

	// Responses decoded off the child's stdout. Closed when the stream
	// ends, i.e. when the child exits or loses its stdout.
	responses chan *protocol.Message

	// Closed once the child has been reaped.
	exited chan struct{}

	spawned bool
	onRespawn func()
}

func NewWorker(dev int, config *Config) *Worker {
	id, _ := uuid.NewRandom()
	return &Worker{
		Id:     id.String(),
		Device: dev,
		config: config,
	}
}

// True if the subprocess has been initialized.
func (w *Worker) Valid() bool {
	return w.cmd != nil && w.requests != nil && w.responses != nil
}

// Reset to an uninitialized state.
func (w *Worker) clear() {
	if w.stdin != nil {
		w.stdin.Close()
	}
	w.cmd = nil
	w.requests = nil
	w.stdin = nil
	w.responses = nil
	w.exited = nil
}

// Initialize spawns the subprocess and connects the channel pair.
// No-op if the worker is already valid. Only the worker's device is
// made visible to the child; the parent's own visibility environment
// is restored before Initialize returns, spawn failure included.
func (w *Worker) Initialize() error {
	if w.Valid() {
		return nil
	}

	if w.spawned {
		log.Infof("Respawning worker %s for device %d", w.Id, w.Device)
		if w.onRespawn != nil {
			w.onRespawn()
		}
	}

	cmd := exec.Command(w.config.WorkerExecutable, w.config.WorkerArgs...)
	cmd.Stderr = os.Stderr

	// Own process group, and never outlive the parent.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return err
	}

	if err := device.WithVisible(w.Device, cmd.Start); err != nil {
		stdin.Close()
		return err
	}

	log.Debugf("Spawned worker %s for device %d with PID %d", w.Id, w.Device, cmd.Process.Pid)

	responses := make(chan *protocol.Message)
	decoder := protocol.NewDecoder(stdout)
	go func() {
		defer close(responses)
		for {
			msg, err := decoder.Decode()
			if err != nil {
				if err != io.EOF {
					log.Debugf("Worker %s response stream: %v", w.Id, err)
				}
				return
			}
			responses <- msg
		}
	}()

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		if err := cmd.Wait(); err != nil {
			log.Debugf("Worker %s exited: %v", w.Id, err)
		}
	}()

	w.cmd = cmd
	w.requests = protocol.NewEncoder(stdin)
	w.stdin = stdin
	w.responses = responses
	w.exited = exited
	w.spawned = true
	return nil
}

func (w *Worker) alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// waitExit blocks until the child has exited or the timeout elapses.
// Returns true if the child exited.
func (w *Worker) waitExit(timeout time.Duration) bool {
	select {
	case <-w.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Put pushes a work item to the child process, respawning the child
// first if a prior crash cleared the worker.
func (w *Worker) Put(msg *protocol.Message) error {
	if err := w.Initialize(); err != nil {
		return err
	}

	if err := w.requests.Encode(msg); err != nil {
		// The request channel is broken, usually because the child
		// died since its last use. Do not leave the worker wedged.
		if w.alive() {
			w.Kill(w.config.GracefulTimeout, w.config.TerminateTimeout)
		} else {
			w.clear()
		}
		return err
	}
	return nil
}

// Get blocks for a response. A resultTimeout of zero or less waits
// without bound, which is used only during the startup handshake. The
// wait is polled in sub-second slices so that a dead child is noticed
// long before a large timeout expires.
//
// On expiry with the child still alive, the kill escalation runs and
// ErrTimeout is returned. If the child is found dead, the worker is
// cleared for lazy respawn and ErrCrash is returned.
func (w *Worker) Get(resultTimeout, gracefulTimeout, terminateTimeout time.Duration) (*protocol.Message, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: worker %s is not running", utils.ErrCrash, w.Id)
	}

	bounded := resultTimeout > 0
	remaining := resultTimeout

	for {
		slice := pollInterval
		if bounded && remaining < slice {
			slice = remaining
		}

		select {
		case msg, ok := <-w.responses:
			if !ok {
				return nil, w.failClosedStream(gracefulTimeout, terminateTimeout)
			}
			return msg, nil

		case <-time.After(slice):
			if !w.alive() {
				// The child died; a final response may still have been
				// decoded before the stream ended.
				select {
				case msg, ok := <-w.responses:
					if ok {
						return msg, nil
					}
				default:
				}
				w.clear()
				return nil, fmt.Errorf("%w: worker %s exited while a reply was pending", utils.ErrCrash, w.Id)
			}

			if bounded {
				remaining -= slice
				if remaining <= 0 {
					w.Kill(gracefulTimeout, terminateTimeout)
					return nil, fmt.Errorf("%w: worker %s gave no reply within %v", utils.ErrTimeout, w.Id, resultTimeout)
				}
			}
		}
	}
}

// The response stream ended under a pending read. Normally the child
// has exited or is about to; a child that closed stdout but lives on
// is escalated.
func (w *Worker) failClosedStream(gracefulTimeout, terminateTimeout time.Duration) error {
	if !w.waitExit(gracefulTimeout) {
		log.Warnf("Worker %s closed its response stream but is still alive", w.Id)
		w.Kill(gracefulTimeout, terminateTimeout)
	} else {
		w.clear()
	}
	return fmt.Errorf("%w: worker %s closed its response stream", utils.ErrCrash, w.Id)
}

// Terminate signals the child process to exit its work loop. Does not
// wait for the exit.
func (w *Worker) Terminate() {
	if !w.Valid() {
		return
	}
	if err := w.requests.Encode(protocol.Terminate()); err != nil {
		log.Debugf("Worker %s: failed to send termination sentinel: %v", w.Id, err)
	}
}

// Wait blocks until the child process has exited, then clears state.
func (w *Worker) Wait() {
	if w.cmd == nil {
		return
	}
	<-w.exited
	w.clear()
}

// Kill ends the subprocess with escalating force: first the
// termination sentinel with gracefulTimeout to comply, then SIGTERM
// with terminateTimeout, then an unconditional SIGKILL. State is
// cleared no matter which step succeeded.
func (w *Worker) Kill(gracefulTimeout, terminateTimeout time.Duration) {
	if w.cmd == nil {
		return
	}

	w.Terminate()
	if !w.waitExit(gracefulTimeout) {
		log.Warnf("Sending SIGTERM to process with PID %d", w.cmd.Process.Pid)
		w.cmd.Process.Signal(unix.SIGTERM)

		if !w.waitExit(terminateTimeout) {
			log.Errorf("Sending SIGKILL to process with PID %d", w.cmd.Process.Pid)
			w.cmd.Process.Kill()
			<-w.exited
		}
	}
	w.clear()
}
