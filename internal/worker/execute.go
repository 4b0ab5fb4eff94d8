package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferload/inferload/internal/prompts"
	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/transport"
)

// execute owns one request from submission to terminal snapshot. It runs on
// its own goroutine so a slow request never blocks dispatch of independent
// slots. The request context deliberately survives run cancellation; drain
// grace and the force channel govern its end of life instead.
func (w *Worker) execute(runCtx context.Context, slot schedule.Slot, payload prompts.Payload, sem chan struct{}) {
	defer w.inflight.Done()

	reqCtx, cancel := context.WithCancel(context.WithoutCancel(runCtx))
	defer cancel()

	req := &transport.Request{
		ID:           slot.ID,
		Prompt:       payload.Text,
		MaxTokens:    payload.TargetOutput,
		TargetInput:  payload.TargetInput,
		TargetOutput: payload.TargetOutput,
	}

	submit := time.Now()
	rec := record.NewRecorder(slot.ID, slot.StageID, w.opt.Index, submit)

	events, err := w.opt.Adapter.Send(reqCtx, req)
	if err != nil {
		snap, _ := rec.Observe(transport.Event{Kind: transport.KindError, At: time.Now(), Err: err})
		w.finish(snap, sem)
		return
	}

	var timeout <-chan time.Time
	if w.opt.Timeout > 0 {
		t := time.NewTimer(w.opt.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	var snap *record.Snapshot
	for snap == nil {
		select {
		case ev, ok := <-events:
			if !ok {
				snap, _ = rec.Observe(transport.Event{
					Kind: transport.KindError,
					At:   time.Now(),
					Err:  ErrMalformedStream,
				})
				break
			}
			var obsErr error
			snap, obsErr = rec.Observe(ev)
			if obsErr != nil && w.logLimit.Allow() {
				w.opt.Log.WithError(obsErr).WithField("request", slot.ID).Warn("discarding transport event")
			}
		case <-timeout:
			snap = rec.FinalizeTimeout(time.Now())
		case <-w.force:
			snap = rec.FinalizeCancel(time.Now(), record.ReasonShutdown)
		}
	}

	w.finish(snap, sem)
	cancel()
	w.discard(events, slot.ID)
}

// finish releases the stage slot and hands the snapshot to the aggregation
// channel, evicting the oldest completed snapshot when the channel is
// saturated. Only terminal records ever sit in the channel, so dispatch never
// stalls and no in-flight record is ever dropped.
func (w *Worker) finish(snap *record.Snapshot, sem chan struct{}) {
	w.release(sem)
	if snap == nil {
		return
	}
	select {
	case w.opt.Out <- snap:
		return
	default:
	}
	select {
	case old := <-w.opt.Out:
		w.noteSaturation(old.StageID)
	default:
	}
	select {
	case w.opt.Out <- snap:
	default:
		w.noteSaturation(snap.StageID)
	}
}

func (w *Worker) noteSaturation(stageID int) {
	if w.opt.OnSaturationDrop != nil {
		w.opt.OnSaturationDrop(stageID)
	}
	if w.logLimit.Allow() {
		w.opt.Log.WithField("stage", stageID).Warn("aggregation channel saturated, dropped completed record")
	}
}

// discard drains whatever the adapter still emits after the record went
// terminal. Late events are logged and thrown away; they never reopen a
// record.
func (w *Worker) discard(events <-chan transport.Event, id string) {
	for ev := range events {
		if w.logLimit.Allow() {
			w.opt.Log.WithFields(logrus.Fields{
				"request": id,
				"kind":    ev.Kind.String(),
			}).Debug("late transport event discarded")
		}
	}
}
