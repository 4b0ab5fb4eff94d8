// Package bench orchestrates one benchmarking run: it fans the compiled
// schedule out to workers, merges their terminal snapshots through a single
// aggregation task, and classifies how the run ended.
package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferload/inferload/internal/aggregate"
	"github.com/inferload/inferload/internal/prompts"
	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/transport"
	"github.com/inferload/inferload/internal/worker"
)

// Completeness flags how much of the plan a run actually executed.
type Completeness string

const (
	// Complete means every worker finished its partition normally.
	Complete Completeness = "complete"
	// Partial means the run ended early (cancellation, worker crash,
	// prompt exhaustion) but its aggregates are still valid.
	Partial Completeness = "partial"
	// Aborted means a run-level failure stopped the scheduler outright.
	Aborted Completeness = "aborted"
)

// ErrTargetUnreachable aborts a run whose endpoint never answered at all.
var ErrTargetUnreachable = errors.New("transport target unreachable")

// startLead gives every worker the same epoch a beat in the future so slot
// zero is not already late when the loops spin up.
const startLead = 250 * time.Millisecond

// Options configure an engine run.
type Options struct {
	Schedule *schedule.Schedule
	Adapter  transport.Adapter
	Prompts  prompts.Source

	// ChannelCapacity bounds each worker→aggregator channel.
	ChannelCapacity int
	DrainGrace      time.Duration

	// AbortThreshold is how many connection-class failures, with nothing
	// succeeded yet, prove the target wholly unreachable.
	AbortThreshold int

	// KeepRecords retains every terminal snapshot for per-request reporting.
	KeepRecords bool

	// OnStageComplete receives each stage's aggregate as soon as all of the
	// stage's slots are accounted for.
	OnStageComplete func(aggregate.Stats)

	Log *logrus.Entry
}

// Outcome is everything a run produced besides the aggregates themselves.
type Outcome struct {
	Completeness Completeness
	AbortReason  string
	Started      time.Time
	Finished     time.Time
	Workers      []worker.Result
	Records      []*record.Snapshot
}

// Engine runs one compiled schedule to completion.
type Engine struct {
	opt Options
	agg *aggregate.Aggregator
	log *logrus.Entry

	mu        sync.Mutex
	folded    map[int]int64 // terminal snapshots per stage
	overruns  map[int]int64
	satDrops  map[int]int64 // snapshots evicted before they could fold
	emitted   map[int]bool
	records   []*record.Snapshot
	connFails int64
	succeeded bool
}

func New(opt Options) (*Engine, error) {
	if opt.Schedule == nil {
		return nil, fmt.Errorf("engine requires a compiled schedule")
	}
	if opt.Adapter == nil {
		return nil, fmt.Errorf("engine requires a transport adapter")
	}
	if opt.Prompts == nil {
		return nil, fmt.Errorf("engine requires a prompt source")
	}
	if opt.ChannelCapacity <= 0 {
		opt.ChannelCapacity = 1024
	}
	if opt.AbortThreshold <= 0 {
		opt.AbortThreshold = 20
	}
	if opt.Log == nil {
		opt.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		opt:      opt,
		agg:      aggregate.New(opt.Schedule.Stages),
		log:      opt.Log.WithField("component", "engine"),
		folded:   make(map[int]int64),
		overruns: make(map[int]int64),
		satDrops: make(map[int]int64),
		emitted:  make(map[int]bool),
	}, nil
}

// Aggregator exposes the run's accumulators for live metrics consumers.
func (e *Engine) Aggregator() *aggregate.Aggregator { return e.agg }

// Run executes the schedule. The returned outcome is valid even for partial
// and aborted runs; whatever was aggregated so far is never discarded.
func (e *Engine) Run(ctx context.Context) *Outcome {
	sched := e.opt.Schedule
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	caps := make(map[int]chan struct{}, len(sched.Stages))
	for _, st := range sched.Stages {
		if st.ConcurrencyCap > 0 {
			caps[st.ID] = make(chan struct{}, st.ConcurrencyCap)
		}
	}

	start := time.Now().Add(startLead)
	outcome := &Outcome{Started: start, Workers: make([]worker.Result, len(sched.Workers))}

	outs := make([]chan *record.Snapshot, len(sched.Workers))
	merged := make(chan *record.Snapshot, e.opt.ChannelCapacity)

	var forward sync.WaitGroup
	for i := range outs {
		outs[i] = make(chan *record.Snapshot, e.opt.ChannelCapacity)
		forward.Add(1)
		go func(c chan *record.Snapshot) {
			defer forward.Done()
			for s := range c {
				merged <- s
			}
		}(outs[i])
	}
	go func() {
		forward.Wait()
		close(merged)
	}()

	// The single aggregation task; all folding happens here.
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		for snap := range merged {
			e.fold(snap, cancel)
		}
	}()

	var wg sync.WaitGroup
	for i, slots := range sched.Workers {
		w := worker.New(worker.Options{
			Index:            i,
			Slots:            slots,
			Adapter:          e.opt.Adapter,
			Prompts:          e.opt.Prompts,
			Caps:             caps,
			Timeout:          sched.Plan.PerRequestTimeout,
			DriftTolerance:   sched.Plan.DriftTolerance,
			Overrun:          sched.Plan.Overrun,
			DrainGrace:       e.opt.DrainGrace,
			Out:              outs[i],
			OnOverrun:        e.noteOverrun,
			OnSaturationDrop: e.noteSaturation,
			Start:            start,
			Log:              e.log,
		})
		wg.Add(1)
		go func(i int, w *worker.Worker, out chan *record.Snapshot) {
			defer wg.Done()
			defer close(out)
			outcome.Workers[i] = w.Run(runCtx)
		}(i, w, outs[i])
	}

	wg.Wait()
	<-aggDone
	outcome.Finished = time.Now()

	e.mu.Lock()
	outcome.Records = e.records
	e.mu.Unlock()

	outcome.Completeness = e.classify(runCtx, outcome)
	return outcome
}

func (e *Engine) noteOverrun(stageID int) {
	e.agg.AddOverruns(stageID, 1)
	e.mu.Lock()
	e.overruns[stageID]++
	e.mu.Unlock()
	e.checkStageComplete(stageID)
}

// noteSaturation accounts a snapshot that was evicted under channel pressure.
// The record never reaches fold, so it must still count toward the stage's
// slot total or the stage would never read as complete.
func (e *Engine) noteSaturation(stageID int) {
	e.agg.AddSaturationDrops(stageID, 1)
	e.mu.Lock()
	e.satDrops[stageID]++
	e.mu.Unlock()
	e.checkStageComplete(stageID)
}

// fold accumulates one snapshot and watches for a wholly unreachable target.
func (e *Engine) fold(snap *record.Snapshot, cancel context.CancelCauseFunc) {
	e.agg.Fold(snap)

	e.mu.Lock()
	e.folded[snap.StageID]++
	if e.opt.KeepRecords {
		e.records = append(e.records, snap)
	}
	if snap.Succeeded() {
		e.succeeded = true
	} else if snap.ConnectFailure {
		e.connFails++
	}
	abort := !e.succeeded && e.connFails >= int64(e.opt.AbortThreshold)
	e.mu.Unlock()

	if abort {
		e.log.WithField("failures", e.opt.AbortThreshold).Error("target unreachable, aborting run")
		cancel(ErrTargetUnreachable)
	}
	e.checkStageComplete(snap.StageID)
}

// checkStageComplete emits a stage aggregate once every slot of the stage is
// accounted for: a folded terminal record, a counted overrun, or a snapshot
// dropped to channel saturation.
func (e *Engine) checkStageComplete(stageID int) {
	if e.opt.OnStageComplete == nil {
		return
	}
	var scheduled int64 = -1
	for _, st := range e.opt.Schedule.Stages {
		if st.ID == stageID {
			scheduled = int64(st.SlotCount)
		}
	}
	if scheduled < 0 {
		return
	}

	e.mu.Lock()
	done := !e.emitted[stageID] && e.folded[stageID]+e.overruns[stageID]+e.satDrops[stageID] >= scheduled
	if done {
		e.emitted[stageID] = true
	}
	e.mu.Unlock()

	if done {
		if stats, ok := e.agg.StageStats(stageID); ok {
			e.opt.OnStageComplete(stats)
		}
	}
}

func (e *Engine) classify(runCtx context.Context, outcome *Outcome) Completeness {
	if errors.Is(context.Cause(runCtx), ErrTargetUnreachable) {
		outcome.AbortReason = ErrTargetUnreachable.Error()
		return Aborted
	}
	if runCtx.Err() != nil {
		return Partial
	}
	for _, res := range outcome.Workers {
		if res.Crashed || res.Exhausted {
			return Partial
		}
	}
	return Complete
}
