// Package record turns transport event streams into immutable, terminal
// request records and derives the token-level latency metrics from them.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/inferload/inferload/internal/transport"
)

// Status is the lifecycle state of one request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ReasonTimeout marks records finalized because no terminal transport event
// arrived inside the per-request deadline.
const ReasonTimeout = "timeout"

// ReasonShutdown marks in-flight records force-cancelled during drain.
const ReasonShutdown = "cancelled-at-shutdown"

// ErrTerminal is returned when an event arrives for an already-final record.
var ErrTerminal = errors.New("record already terminal")

// ErrNonMonotonic is returned when an event timestamp does not advance past
// the previous one.
var ErrNonMonotonic = errors.New("event timestamp not increasing")

// Record is the mutable lifecycle state of a single request. It is owned by
// exactly one Recorder and must not be shared until snapshotted.
type Record struct {
	ID      string
	StageID int
	Worker  int

	SubmitTime     time.Time
	FirstTokenTime time.Time
	TokenArrivals  []time.Time
	CompletionTime time.Time

	Status         Status
	Error          string
	TimedOut       bool
	ConnectFailure bool
	InputTokens    int
	OutputTokens   int
}

// Recorder drives the status machine for one request:
// pending → streaming → {completed|failed|cancelled}, never backwards.
type Recorder struct {
	rec    Record
	lastAt time.Time
}

// NewRecorder starts tracking a request submitted at submit.
func NewRecorder(id string, stageID, worker int, submit time.Time) *Recorder {
	return &Recorder{
		rec: Record{
			ID:         id,
			StageID:    stageID,
			Worker:     worker,
			SubmitTime: submit,
			Status:     StatusPending,
		},
		lastAt: submit,
	}
}

// Status returns the current lifecycle state.
func (r *Recorder) Status() Status { return r.rec.Status }

// Observe applies one transport event. A terminal event returns the final
// immutable snapshot; intermediate events return nil. Events on an already
// terminal record are rejected with ErrTerminal and must be discarded by the
// caller; they never reopen the record.
func (r *Recorder) Observe(ev transport.Event) (*Snapshot, error) {
	if r.rec.Status.Terminal() {
		return nil, ErrTerminal
	}
	if !ev.At.After(r.lastAt) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNonMonotonic, ev.Kind, ev.At.Format(time.RFC3339Nano))
	}
	r.lastAt = ev.At

	switch ev.Kind {
	case transport.KindFirstByte:
		// Informational; the record stays pending until a token arrives.
		return nil, nil
	case transport.KindToken:
		if r.rec.Status == StatusPending {
			r.rec.Status = StatusStreaming
			r.rec.FirstTokenTime = ev.At
		}
		r.rec.TokenArrivals = append(r.rec.TokenArrivals, ev.At)
		return nil, nil
	case transport.KindDone:
		r.rec.CompletionTime = ev.At
		r.rec.Status = StatusCompleted
		r.applyUsage(ev.Usage)
		return r.snapshot(), nil
	case transport.KindError:
		r.rec.CompletionTime = ev.At
		r.rec.Status = StatusFailed
		if ev.Err != nil {
			r.rec.Error = ev.Err.Error()
			r.rec.ConnectFailure = transport.IsConnectError(ev.Err)
		}
		r.applyUsage(ev.Usage)
		return r.snapshot(), nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// FinalizeTimeout closes the record as failed with the timeout reason.
// Subsequent Observe calls return ErrTerminal.
func (r *Recorder) FinalizeTimeout(at time.Time) *Snapshot {
	return r.finalize(at, StatusFailed, ReasonTimeout, true)
}

// FinalizeCancel closes the record as cancelled with the given reason.
func (r *Recorder) FinalizeCancel(at time.Time, reason string) *Snapshot {
	return r.finalize(at, StatusCancelled, reason, false)
}

func (r *Recorder) finalize(at time.Time, status Status, reason string, timedOut bool) *Snapshot {
	if r.rec.Status.Terminal() {
		return nil
	}
	if at.After(r.lastAt) {
		r.lastAt = at
	} else {
		at = r.lastAt
	}
	r.rec.CompletionTime = at
	r.rec.Status = status
	r.rec.Error = reason
	r.rec.TimedOut = timedOut
	if r.rec.OutputTokens == 0 {
		r.rec.OutputTokens = len(r.rec.TokenArrivals)
	}
	return r.snapshot()
}

func (r *Recorder) applyUsage(u *transport.Usage) {
	if u != nil {
		r.rec.InputTokens = u.InputTokens
		r.rec.OutputTokens = u.OutputTokens
	}
	if r.rec.OutputTokens == 0 {
		r.rec.OutputTokens = len(r.rec.TokenArrivals)
	}
}
