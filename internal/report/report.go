// Package report assembles and serializes the final RunReport.
package report

import (
	"time"

	"github.com/inferload/inferload/internal/aggregate"
	"github.com/inferload/inferload/internal/bench"
	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/slo"
)

// RunReport is the complete structured output of one benchmarking execution.
type RunReport struct {
	RunID        string             `json:"run_id" yaml:"run_id"`
	Adapter      string             `json:"adapter" yaml:"adapter"`
	StartedAt    time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time          `json:"finished_at" yaml:"finished_at"`
	Completeness bench.Completeness `json:"completeness" yaml:"completeness"`
	AbortReason  string             `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`

	Plan   schedule.Plan        `json:"plan" yaml:"plan"`
	Phases []schedule.StageInfo `json:"phases" yaml:"phases"`

	Stages []aggregate.Stats `json:"stages" yaml:"stages"`
	Run    aggregate.Stats   `json:"run" yaml:"run"`

	// CostPerMTok is the optional price-performance figure: dollars per
	// million output tokens at the configured hourly accelerator cost.
	CostPerMTok float64 `json:"cost_per_million_output_tokens,omitempty" yaml:"cost_per_million_output_tokens,omitempty"`

	// SLO holds the evaluated objectives, when any were configured.
	SLO      []slo.Result `json:"slo,omitempty" yaml:"slo,omitempty"`
	SLOsPass bool         `json:"slos_pass" yaml:"slos_pass"`

	Records []*record.Snapshot `json:"records,omitempty" yaml:"-"`
}

// Options tune report assembly.
type Options struct {
	Adapter     string          // transport adapter name echoed in the report
	HourlyCost  float64         // accelerator $/hour, 0 disables price-performance
	KeepRecords bool
	SLOs        []slo.Objective // objectives evaluated against the run stats
}

// Build folds the schedule, outcome, and aggregates into one report.
func Build(sched *schedule.Schedule, outcome *bench.Outcome, agg *aggregate.Aggregator, opt Options) *RunReport {
	rep := &RunReport{
		RunID:        sched.RunID,
		Adapter:      opt.Adapter,
		StartedAt:    outcome.Started,
		FinishedAt:   outcome.Finished,
		Completeness: outcome.Completeness,
		AbortReason:  outcome.AbortReason,
		Plan:         sched.Plan,
		Phases:       sched.Stages,
		Stages:       agg.AllStageStats(),
		Run:          agg.RunStats(),
	}
	if opt.KeepRecords {
		rep.Records = outcome.Records
	}
	if opt.HourlyCost > 0 && rep.Run.OutputTokens > 0 {
		hours := outcome.Finished.Sub(outcome.Started).Hours()
		rep.CostPerMTok = opt.HourlyCost * hours / (float64(rep.Run.OutputTokens) / 1e6)
	}
	rep.SLO = slo.NewEvaluator(opt.SLOs).Evaluate(rep.Run)
	rep.SLOsPass = slo.AllPassed(rep.SLO)
	return rep
}
