package schedule

import (
	"fmt"
	"math"
	"time"
)

// Shape selects how a stage spaces its dispatches over time.
type Shape string

const (
	ShapeConstant Shape = "constant"
	ShapePoisson  Shape = "poisson"
	ShapeBurst    Shape = "burst"
	ShapeTrace    Shape = "trace"
)

// OverrunPolicy decides what happens to a dispatch slot that falls behind its
// target beyond the drift tolerance.
type OverrunPolicy string

const (
	// OverrunDrop skips the slot and counts an overrun, keeping the
	// instantaneous rate correct at the cost of the exact request count.
	OverrunDrop OverrunPolicy = "drop"
	// OverrunCatchup dispatches the slot late, keeping the exact request
	// count at the cost of a rate spike.
	OverrunCatchup OverrunPolicy = "catchup"
)

// BurstPoint is one burst of Count requests targeted at offset At from the
// stage start.
type BurstPoint struct {
	At    time.Duration `mapstructure:"at" yaml:"at" json:"at"`
	Count int           `mapstructure:"count" yaml:"count" json:"count"`
}

// Stage is one time-bounded segment of a Plan.
type Stage struct {
	Shape          Shape         `mapstructure:"shape" yaml:"shape" json:"shape"`
	Rate           float64       `mapstructure:"rate" yaml:"rate" json:"rate,omitempty"`
	RateMax        float64       `mapstructure:"rate_max" yaml:"rate_max" json:"rate_max,omitempty"`
	Duration       time.Duration `mapstructure:"duration" yaml:"duration" json:"duration"`
	ConcurrencyCap int           `mapstructure:"concurrency_cap" yaml:"concurrency_cap" json:"concurrency_cap"`
	Jitter         bool          `mapstructure:"jitter" yaml:"jitter" json:"jitter,omitempty"`
	Bursts         []BurstPoint  `mapstructure:"bursts" yaml:"bursts" json:"bursts,omitempty"`
	TraceOffsets   []float64     `mapstructure:"trace_offsets" yaml:"trace_offsets" json:"trace_offsets,omitempty"` // seconds
	TraceFile      string        `mapstructure:"trace_file" yaml:"trace_file" json:"trace_file,omitempty"`
}

// Plan is the full configured load profile for one run.
type Plan struct {
	Stages            []Stage       `mapstructure:"stages" yaml:"stages" json:"stages"`
	WorkerCount       int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	Seed              int64         `mapstructure:"seed" yaml:"seed" json:"seed"`
	PerRequestTimeout time.Duration `mapstructure:"per_request_timeout" yaml:"per_request_timeout" json:"per_request_timeout"`
	DriftTolerance    time.Duration `mapstructure:"drift_tolerance" yaml:"drift_tolerance" json:"drift_tolerance"`
	Overrun           OverrunPolicy `mapstructure:"overrun_policy" yaml:"overrun_policy" json:"overrun_policy"`
}

// Validate rejects plans that can never produce a meaningful run. These are
// fatal at startup; the run never begins.
func (p *Plan) Validate() error {
	if p.WorkerCount <= 0 {
		return fmt.Errorf("workers must be positive, got %d", p.WorkerCount)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("plan has no stages")
	}
	if p.DriftTolerance < 0 {
		return fmt.Errorf("drift_tolerance must not be negative")
	}
	switch p.Overrun {
	case "", OverrunDrop, OverrunCatchup:
	default:
		return fmt.Errorf("unknown overrun_policy %q", p.Overrun)
	}
	for i, st := range p.Stages {
		if err := st.validate(); err != nil {
			return fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return nil
}

func (s *Stage) validate() error {
	if s.ConcurrencyCap < 0 {
		return fmt.Errorf("concurrency_cap must not be negative")
	}
	switch s.Shape {
	case ShapeConstant, ShapePoisson:
		if s.Rate <= 0 {
			return fmt.Errorf("%s shape requires a positive rate", s.Shape)
		}
		if s.RateMax != 0 && s.RateMax < s.Rate {
			return fmt.Errorf("rate_max %.2f below rate %.2f", s.RateMax, s.Rate)
		}
		if s.Duration <= 0 {
			return fmt.Errorf("%s shape requires a positive duration", s.Shape)
		}
	case ShapeBurst:
		if len(s.Bursts) == 0 {
			return fmt.Errorf("burst shape requires at least one burst point")
		}
		for _, b := range s.Bursts {
			if b.Count <= 0 {
				return fmt.Errorf("burst count must be positive")
			}
			if b.At < 0 {
				return fmt.Errorf("burst time must not be negative")
			}
		}
	case ShapeTrace:
		if len(s.TraceOffsets) == 0 && s.TraceFile == "" {
			return fmt.Errorf("trace shape requires dispatch offsets or a trace file")
		}
		for i := 1; i < len(s.TraceOffsets); i++ {
			if s.TraceOffsets[i] < s.TraceOffsets[i-1] {
				return fmt.Errorf("trace offsets must be ordered")
			}
		}
	default:
		return fmt.Errorf("unknown shape %q", s.Shape)
	}
	return nil
}

// duration returns the stage's span on the global timeline. Burst and trace
// stages may omit an explicit duration, in which case the last event bounds it.
func (s *Stage) duration() time.Duration {
	if s.Duration > 0 {
		return s.Duration
	}
	switch s.Shape {
	case ShapeBurst:
		var last time.Duration
		for _, b := range s.Bursts {
			if b.At > last {
				last = b.At
			}
		}
		return last + time.Second
	case ShapeTrace:
		last := s.TraceOffsets[len(s.TraceOffsets)-1]
		return secondsToDuration(last) + time.Second
	default:
		return 0
	}
}

// sweepRates expands a rate_max sweep into one concrete rate per integer step.
// A stage without rate_max yields just its own rate.
func (s *Stage) sweepRates() []float64 {
	if s.RateMax <= s.Rate {
		return []float64{s.Rate}
	}
	var rates []float64
	for r := s.Rate; r <= s.RateMax+1e-9; r++ {
		rates = append(rates, r)
	}
	return rates
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}
