package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// EventKind identifies one event in a request's streamed lifecycle.
type EventKind int

const (
	// KindFirstByte marks the first byte of the response, before any token.
	KindFirstByte EventKind = iota
	// KindToken marks one generated token (or token chunk) arriving.
	KindToken
	// KindDone is the successful terminal event.
	KindDone
	// KindError is the failing terminal event.
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindFirstByte:
		return "first_byte"
	case KindToken:
		return "token"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Usage carries token accounting reported by the model server.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is a single timestamped occurrence in a response stream.
// Adapters must emit exactly one terminal event (KindDone or KindError)
// per request and stamp At with strictly monotonic wall-clock times.
type Event struct {
	Kind  EventKind
	At    time.Time
	Text  string // token text, KindToken only
	Err   error  // KindError only
	Usage *Usage // usually attached to the terminal event
}

// Request is one unit of work handed to an adapter.
type Request struct {
	ID           string
	Prompt       string
	MaxTokens    int
	TargetInput  int // declared target input token length, informational
	TargetOutput int // declared target output token length, informational
}

// Adapter sends one request and yields its timestamped event stream.
// Implementations close the returned channel after the terminal event.
// The core depends only on this contract, never on protocol specifics.
type Adapter interface {
	Name() string
	Send(ctx context.Context, req *Request) (<-chan Event, error)
}

// StatusError reports a non-success response status from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// ConnectError wraps failures to reach the endpoint at all, as opposed to
// failures of an established exchange. The engine uses this distinction to
// detect a wholly unreachable target and abort the run.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsConnectError reports whether err is connection-class: an explicit
// ConnectError or a well-known dial/refused failure.
func IsConnectError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectError
	if errors.As(err, &ce) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH)
}
