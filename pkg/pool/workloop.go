package pool

import (
	"fmt"
	"io"
	"os"

	"github.com/tunebench/tunebench/pkg/device"
	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/protocol"
	"github.com/tunebench/tunebench/pkg/utils"
)

// RunWorkLoop is the work loop of a benchmarking subprocess: read one
// message, act, write at most one reply, until the termination
// sentinel arrives or the request stream ends.
//
// A failing benchmark is not caught here; the error ends the loop and
// the process, which the parent observes as a crash on its next read.
// The same holds for an unrecognized message kind.
func RunWorkLoop(in io.Reader, out io.Writer) error {
	requests := protocol.NewDecoder(in)
	responses := protocol.NewEncoder(out)

	for {
		msg, err := requests.Decode()
		if err == io.EOF {
			// Parent went away; nothing left to serve.
			return nil
		}
		if err != nil {
			return err
		}

		switch msg.Kind {
		case protocol.KindTerminate:
			return nil

		case protocol.KindPing:
			if err := responses.Encode(protocol.Pong()); err != nil {
				return err
			}

		case protocol.KindRequest:
			value, err := msg.Request.Benchmark()
			if err != nil {
				return err
			}
			if err := responses.Encode(protocol.NewResult(value)); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unexpected %s message in work loop", utils.ErrProtocol, msg.Kind)
		}
	}
}

// WorkLoopMain is the process entry point behind the workloop
// subcommand. Stdout carries the response channel, so all logging is
// rerouted to stderr before the loop starts.
func WorkLoopMain() {
	log.SetOutput(os.Stderr)
	log.Debugf("Entering benchmark worker. Visible devices = %s", os.Getenv(device.VisibleDevicesEnv))

	if err := RunWorkLoop(os.Stdin, os.Stdout); err != nil {
		log.Errorf("Benchmark worker: %v", err)
		os.Exit(1)
	}
}
