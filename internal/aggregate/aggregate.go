// Package aggregate merges terminal request snapshots from all workers into
// stage and run statistics. Accumulation is commutative and associative, so
// the result is independent of merge order and worker partitioning.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
)

// StageAggregate accumulates one stage's counters and latency distributions.
type StageAggregate struct {
	StageID   int
	Scheduled int64

	Completed int64
	Failed    int64
	Cancelled int64
	Timeouts  int64

	Overruns        int64
	SaturationDrops int64

	InputTokens  int64
	OutputTokens int64

	TTFT  *Dist
	TPOT  *Dist
	NTPOT *Dist
	ITL   *Dist
	E2E   *Dist

	firstSubmit    time.Time
	lastCompletion time.Time
}

func newStageAggregate(id int, scheduled int64) *StageAggregate {
	return &StageAggregate{
		StageID:   id,
		Scheduled: scheduled,
		TTFT:      newDist(),
		TPOT:      newDist(),
		NTPOT:     newDist(),
		ITL:       newDist(),
		E2E:       newDist(),
	}
}

// Fold accumulates one terminal snapshot. Failed and cancelled requests feed
// the error counters but stay out of the latency distributions.
func (a *StageAggregate) Fold(s *record.Snapshot) {
	switch s.Status {
	case record.StatusCompleted:
		a.Completed++
	case record.StatusCancelled:
		a.Cancelled++
	default:
		a.Failed++
		if s.TimedOut {
			a.Timeouts++
		}
	}
	a.InputTokens += int64(s.InputTokens)

	if a.firstSubmit.IsZero() || s.SubmitTime.Before(a.firstSubmit) {
		a.firstSubmit = s.SubmitTime
	}
	if s.CompletionTime.After(a.lastCompletion) {
		a.lastCompletion = s.CompletionTime
	}

	if !s.Succeeded() {
		return
	}
	a.OutputTokens += int64(s.OutputTokens)
	a.E2E.Record(s.E2E)
	if s.TTFT > 0 {
		a.TTFT.Record(s.TTFT)
	}
	if s.TPOT > 0 {
		a.TPOT.Record(s.TPOT)
	}
	if s.NTPOT > 0 {
		a.NTPOT.Record(s.NTPOT)
	}
	for _, itl := range s.ITL {
		a.ITL.Record(itl)
	}
}

// Merge folds other into a; both must describe the same stage.
func (a *StageAggregate) Merge(other *StageAggregate) {
	a.Completed += other.Completed
	a.Failed += other.Failed
	a.Cancelled += other.Cancelled
	a.Timeouts += other.Timeouts
	a.Overruns += other.Overruns
	a.SaturationDrops += other.SaturationDrops
	a.InputTokens += other.InputTokens
	a.OutputTokens += other.OutputTokens
	a.TTFT.Merge(other.TTFT)
	a.TPOT.Merge(other.TPOT)
	a.NTPOT.Merge(other.NTPOT)
	a.ITL.Merge(other.ITL)
	a.E2E.Merge(other.E2E)
	if a.firstSubmit.IsZero() || (!other.firstSubmit.IsZero() && other.firstSubmit.Before(a.firstSubmit)) {
		a.firstSubmit = other.firstSubmit
	}
	if other.lastCompletion.After(a.lastCompletion) {
		a.lastCompletion = other.lastCompletion
	}
}

// Stats is the JSON-friendly snapshot of a stage or run aggregate.
type Stats struct {
	StageID   int   `json:"stage_id"`
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Timeouts  int64 `json:"timeouts"`

	Overruns        int64 `json:"overruns"`
	SaturationDrops int64 `json:"saturation_drops"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`

	RequestsPerSec   float64 `json:"requests_per_sec"`
	OutputTokPerSec  float64 `json:"output_tokens_per_sec"`
	ErrorRate        float64 `json:"error_rate"`
	ObservedDuration float64 `json:"observed_duration_s"`

	TTFT  DistSummary `json:"ttft"`
	TPOT  DistSummary `json:"tpot"`
	NTPOT DistSummary `json:"ntpot"`
	ITL   DistSummary `json:"itl"`
	E2E   DistSummary `json:"e2e"`
}

func (a *StageAggregate) stats() Stats {
	s := Stats{
		StageID:         a.StageID,
		Scheduled:       a.Scheduled,
		Completed:       a.Completed,
		Failed:          a.Failed,
		Cancelled:       a.Cancelled,
		Timeouts:        a.Timeouts,
		Overruns:        a.Overruns,
		SaturationDrops: a.SaturationDrops,
		InputTokens:     a.InputTokens,
		OutputTokens:    a.OutputTokens,
		TTFT:            a.TTFT.Summary(),
		TPOT:            a.TPOT.Summary(),
		NTPOT:           a.NTPOT.Summary(),
		ITL:             a.ITL.Summary(),
		E2E:             a.E2E.Summary(),
	}
	total := a.Completed + a.Failed + a.Cancelled
	if total > 0 {
		s.ErrorRate = float64(a.Failed+a.Cancelled) / float64(total)
	}
	if !a.firstSubmit.IsZero() && a.lastCompletion.After(a.firstSubmit) {
		elapsed := a.lastCompletion.Sub(a.firstSubmit).Seconds()
		s.ObservedDuration = elapsed
		if elapsed > 0 {
			s.RequestsPerSec = float64(a.Completed) / elapsed
			s.OutputTokPerSec = float64(a.OutputTokens) / elapsed
		}
	}
	return s
}

// Aggregator owns all stage accumulators for one run. Fold is driven by a
// single aggregation goroutine; the read side (live snapshots, final report)
// synchronizes through the mutex.
type Aggregator struct {
	mu     sync.Mutex
	stages map[int]*StageAggregate
}

// New prepares accumulators for the compiled stages.
func New(stages []schedule.StageInfo) *Aggregator {
	agg := &Aggregator{stages: make(map[int]*StageAggregate, len(stages))}
	for _, st := range stages {
		agg.stages[st.ID] = newStageAggregate(st.ID, int64(st.SlotCount))
	}
	return agg
}

// Fold accumulates one terminal snapshot into its stage.
func (g *Aggregator) Fold(s *record.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stages[s.StageID]
	if !ok {
		st = newStageAggregate(s.StageID, 0)
		g.stages[s.StageID] = st
	}
	st.Fold(s)
}

// AddOverruns counts dropped dispatch slots for a stage.
func (g *Aggregator) AddOverruns(stageID int, n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.stages[stageID]; ok {
		st.Overruns += n
	}
}

// AddSaturationDrops counts completed records evicted from a saturated
// worker→aggregator channel.
func (g *Aggregator) AddSaturationDrops(stageID int, n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.stages[stageID]; ok {
		st.SaturationDrops += n
	}
}

// StageStats returns the current snapshot for one stage.
func (g *Aggregator) StageStats(stageID int) (Stats, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.stages[stageID]
	if !ok {
		return Stats{}, false
	}
	return st.stats(), true
}

// AllStageStats returns snapshots for every stage, ordered by stage id.
func (g *Aggregator) AllStageStats() []Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Stats, 0, len(g.stages))
	for _, st := range g.stages {
		out = append(out, st.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out
}

// RunStats merges every stage into one run-level aggregate.
func (g *Aggregator) RunStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	run := newStageAggregate(-1, 0)
	for _, st := range g.stages {
		run.Scheduled += st.Scheduled
		run.Merge(st)
	}
	return run.stats()
}
