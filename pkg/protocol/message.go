package protocol

import (
	"encoding/gob"
	"fmt"

	"github.com/tunebench/tunebench/pkg/utils"
)

// A benchmark request that can be shipped to a worker subprocess.
// Implementations must be constructed purely from plain data; live
// device handles cannot cross the process boundary.
type BenchmarkRequest interface {
	// Execute the workload once and return the measured time in milliseconds.
	Benchmark() (float64, error)
}

type Kind int32

const (
	// Zero value, never sent. A decoded message with this kind is invalid.
	KindInvalid Kind = iota

	// Liveness probe sent by the parent once at startup.
	KindPing

	// Reply confirming that a worker completed its startup handshake.
	KindPong

	// Sentinel instructing the worker to exit its work loop.
	KindTerminate

	// A benchmark work item. The Request field carries the payload.
	KindRequest

	// A benchmark result. The Value field carries the elapsed time.
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindTerminate:
		return "terminate"
	case KindRequest:
		return "request"
	case KindResult:
		return "result"
	default:
		return fmt.Sprintf("invalid(%d)", int32(k))
	}
}

// The single message shape exchanged on the request and response channels.
// Exactly one of Request and Value is meaningful, selected by Kind.
type Message struct {
	Kind    Kind
	Request BenchmarkRequest
	Value   float64
}

func Ping() *Message {
	return &Message{Kind: KindPing}
}

func Pong() *Message {
	return &Message{Kind: KindPong}
}

func Terminate() *Message {
	return &Message{Kind: KindTerminate}
}

func NewRequest(request BenchmarkRequest) *Message {
	return &Message{Kind: KindRequest, Request: request}
}

func NewResult(value float64) *Message {
	return &Message{Kind: KindResult, Value: value}
}

// Validate that the message is well formed for its kind.
func (m *Message) Validate() error {
	switch m.Kind {
	case KindPing, KindPong, KindTerminate, KindResult:
		if m.Request != nil {
			return fmt.Errorf("%w: unexpected payload in %s message", utils.ErrProtocol, m.Kind)
		}
	case KindRequest:
		if m.Request == nil {
			return fmt.Errorf("%w: request message without payload", utils.ErrProtocol)
		}
	default:
		return fmt.Errorf("%w: unknown message kind %s", utils.ErrProtocol, m.Kind)
	}
	return nil
}

// Register a concrete benchmark request implementation with the codec.
// Must be called for every type that may appear in a Message before
// encoding or decoding, in both the parent and the worker process.
func Register(request BenchmarkRequest) {
	gob.Register(request)
}
