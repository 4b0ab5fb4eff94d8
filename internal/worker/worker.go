// Package worker drives the per-worker dispatch loops. Each worker owns one
// partition of the compiled schedule, fires its slots at their target
// instants, runs every request lifecycle on its own goroutine, and streams
// terminal snapshots to the aggregation side over a bounded channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/inferload/inferload/internal/prompts"
	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/transport"
)

// ErrMalformedStream marks adapters that closed the event stream without a
// terminal event, violating the transport contract.
var ErrMalformedStream = errors.New("event stream closed without terminal event")

// DefaultDrainGrace bounds how long a shutting-down worker waits for
// in-flight requests before force-cancelling them.
const DefaultDrainGrace = 5 * time.Second

// Options configure one worker.
type Options struct {
	Index   int
	Slots   []schedule.Slot
	Adapter transport.Adapter
	Prompts prompts.Source

	// Caps holds the shared per-stage concurrency semaphores. A nil entry
	// means the stage is uncapped.
	Caps map[int]chan struct{}

	Timeout        time.Duration // per-request deadline, 0 disables
	DriftTolerance time.Duration
	Overrun        schedule.OverrunPolicy
	DrainGrace     time.Duration

	// Out receives terminal snapshots. It must be buffered; when it
	// saturates the worker evicts the oldest already-completed snapshot
	// rather than stalling dispatch.
	Out chan *record.Snapshot

	// OnOverrun and OnSaturationDrop observe counted, non-fatal conditions.
	OnOverrun        func(stageID int)
	OnSaturationDrop func(stageID int)

	Start time.Time // shared run epoch
	Log   *logrus.Entry
}

// Result summarizes one worker's dispatch loop.
type Result struct {
	Dispatched int64
	Overruns   int64
	Drift      time.Duration // cumulative scheduled-vs-actual lag
	Exhausted  bool          // prompt source ran dry
	Crashed    bool
	CrashErr   error
}

// Worker executes its slot partition in schedule order.
type Worker struct {
	opt      Options
	inflight sync.WaitGroup
	force    chan struct{} // closed to force-cancel in-flight requests
	logLimit *rate.Limiter // throttles overrun/late-event noise
}

func New(opt Options) *Worker {
	if opt.DrainGrace <= 0 {
		opt.DrainGrace = DefaultDrainGrace
	}
	if opt.Log == nil {
		opt.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	opt.Log = opt.Log.WithField("worker", opt.Index)
	return &Worker{
		opt:      opt,
		force:    make(chan struct{}),
		logLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Run dispatches until the partition is exhausted or ctx is cancelled, then
// drains in-flight requests. A panic anywhere in the loop is contained and
// reported in the Result so one crashing worker degrades, not aborts, a run.
func (w *Worker) Run(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res.Crashed = true
			res.CrashErr = fmt.Errorf("worker %d panic: %v", w.opt.Index, r)
			w.opt.Log.WithField("panic", r).Error("worker crashed")
		}
		w.drain()
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for _, slot := range w.opt.Slots {
		target := w.opt.Start.Add(slot.Target)
		if wait := time.Until(target); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return res
			case <-timer.C:
			}
		}

		lateness := time.Since(target)
		if lateness > 0 {
			res.Drift += lateness
		}
		if w.opt.DriftTolerance > 0 && lateness > w.opt.DriftTolerance && w.opt.Overrun != schedule.OverrunCatchup {
			res.Overruns++
			if w.opt.OnOverrun != nil {
				w.opt.OnOverrun(slot.StageID)
			}
			if w.logLimit.Allow() {
				w.opt.Log.WithFields(logrus.Fields{
					"slot":     slot.Seq,
					"stage":    slot.StageID,
					"lateness": lateness,
				}).Warn("dispatch slot missed beyond tolerance, dropping")
			}
			continue
		}

		// Deliberate backpressure: block until the stage has a free
		// in-flight slot.
		sem := w.opt.Caps[slot.StageID]
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return res
			}
		}

		payload, err := w.opt.Prompts.Next(ctx)
		if err != nil {
			w.release(sem)
			if errors.Is(err, prompts.ErrExhausted) {
				w.opt.Log.Warn("prompt source exhausted, stopping dispatch")
				res.Exhausted = true
			}
			return res
		}

		res.Dispatched++
		w.inflight.Add(1)
		go w.execute(ctx, slot, payload, sem)
	}
	return res
}

// drain waits up to the grace timeout for in-flight requests, then forces the
// remainder to a cancelled terminal state.
func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(w.opt.DrainGrace):
	}
	w.opt.Log.Warn("drain grace expired, force-cancelling in-flight requests")
	close(w.force)
	<-done
}

func (w *Worker) release(sem chan struct{}) {
	if sem != nil {
		<-sem
	}
}
