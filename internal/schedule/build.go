package schedule

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Slot is one scheduled dispatch: request id, owning stage, and the target
// instant as an offset from run start.
type Slot struct {
	ID      string
	Seq     int
	StageID int
	Worker  int
	Target  time.Duration
}

// StageInfo describes one compiled stage phase on the global timeline.
// A rate sweep expands into several phases, each with its own concrete rate.
type StageInfo struct {
	ID             int           `json:"id"`
	Shape          Shape         `json:"shape"`
	Rate           float64       `json:"rate,omitempty"`
	Offset         time.Duration `json:"offset"`
	Duration       time.Duration `json:"duration"`
	ConcurrencyCap int           `json:"concurrency_cap"`
	SlotCount      int           `json:"slot_count"`
}

// Schedule is a compiled Plan: the global timeline plus its round-robin
// partition across workers.
type Schedule struct {
	RunID    string
	Plan     Plan
	Stages   []StageInfo
	Slots    []Slot
	Workers  [][]Slot
	Duration time.Duration
}

// Build compiles plan into per-worker dispatch timelines. The result is
// deterministic for a fixed plan seed.
func Build(plan Plan) (*Schedule, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.Overrun == "" {
		plan.Overrun = OverrunDrop
	}

	rng := rand.New(rand.NewSource(plan.Seed))
	entropy := ulid.Monotonic(rng, 0)
	now := ulid.Timestamp(time.Now())

	sched := &Schedule{
		RunID: ulid.MustNew(now, entropy).String(),
		Plan:  plan,
	}

	var offset time.Duration
	for _, st := range plan.Stages {
		for _, rate := range st.sweepRates() {
			info := StageInfo{
				ID:             len(sched.Stages),
				Shape:          st.Shape,
				Rate:           rate,
				Offset:         offset,
				ConcurrencyCap: st.ConcurrencyCap,
			}
			phase := st
			phase.Rate = rate
			info.Duration = phaseDuration(&phase, len(st.sweepRates()))

			targets, err := phaseTargets(&phase, info.Duration, rng)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", info.ID, err)
			}
			for _, t := range targets {
				sched.Slots = append(sched.Slots, Slot{
					ID:      ulid.MustNew(now, entropy).String(),
					Seq:     len(sched.Slots),
					StageID: info.ID,
					Target:  offset + t,
				})
			}
			info.SlotCount = len(targets)
			sched.Stages = append(sched.Stages, info)
			offset += info.Duration
		}
	}
	sched.Duration = offset

	partition(sched, plan.WorkerCount)
	return sched, nil
}

// phaseDuration splits a swept stage's duration evenly across its phases.
func phaseDuration(s *Stage, phases int) time.Duration {
	d := s.duration()
	if phases > 1 {
		d /= time.Duration(phases)
	}
	return d
}

// phaseTargets generates dispatch offsets relative to the phase start,
// ascending, all inside [0, duration).
func phaseTargets(s *Stage, duration time.Duration, rng *rand.Rand) ([]time.Duration, error) {
	switch s.Shape {
	case ShapeConstant:
		return constantTargets(s.Rate, duration, s.Jitter, rng), nil
	case ShapePoisson:
		return poissonTargets(s.Rate, duration, rng), nil
	case ShapeBurst:
		return burstTargets(s.Bursts, duration), nil
	case ShapeTrace:
		if len(s.TraceOffsets) == 0 {
			return nil, fmt.Errorf("trace offsets not loaded; resolve trace_file before building")
		}
		return traceTargets(s.TraceOffsets, duration), nil
	default:
		return nil, fmt.Errorf("unknown shape %q", s.Shape)
	}
}

// constantTargets spaces round(rate*duration) slots 1/rate apart, starting at
// zero. With jitter enabled the gaps are drawn from Exponential(rate) and
// rescaled so the slot count and total span are preserved.
func constantTargets(rate float64, duration time.Duration, jitter bool, rng *rand.Rand) []time.Duration {
	n := int(math.Round(rate * duration.Seconds()))
	if n <= 0 {
		return nil
	}
	targets := make([]time.Duration, 0, n)
	if !jitter || n == 1 {
		interval := float64(time.Second) / rate
		for i := 0; i < n; i++ {
			targets = append(targets, time.Duration(float64(i)*interval))
		}
		return targets
	}

	gaps := make([]float64, n-1)
	var sum float64
	for i := range gaps {
		gaps[i] = rng.ExpFloat64() / rate
		sum += gaps[i]
	}
	// Rescale so the jittered timeline spans the same total as the exact one.
	span := float64(n-1) / rate
	scale := span / sum
	var t float64
	targets = append(targets, 0)
	for _, g := range gaps {
		t += g * scale
		targets = append(targets, time.Duration(t*float64(time.Second)))
	}
	return targets
}

// poissonTargets draws i.i.d. exponential inter-arrivals on the phase
// timeline. Thinning a Poisson process keeps it Poisson, so the round-robin
// partition downstream preserves per-worker statistics.
func poissonTargets(rate float64, duration time.Duration, rng *rand.Rand) []time.Duration {
	var targets []time.Duration
	var t float64
	limit := duration.Seconds()
	for {
		t += rng.ExpFloat64() / rate
		if t >= limit {
			return targets
		}
		targets = append(targets, time.Duration(t*float64(time.Second)))
	}
}

// burstTargets fires Count slots at the same instant per burst point.
func burstTargets(bursts []BurstPoint, duration time.Duration) []time.Duration {
	var targets []time.Duration
	for _, b := range bursts {
		at := b.At
		if at >= duration {
			at = duration - time.Nanosecond
		}
		for i := 0; i < b.Count; i++ {
			targets = append(targets, at)
		}
	}
	return targets
}

// traceTargets replays recorded offsets, cycling the trace when the phase
// outlives it so relative spacing stays identical across runs. On repeat
// cycles the first offset is skipped when it coincides with the previous
// cycle's last event.
func traceTargets(offsets []float64, duration time.Duration) []time.Duration {
	var targets []time.Duration
	span := offsets[len(offsets)-1]
	var base float64
	limit := duration.Seconds()
	for cycle := 0; ; cycle++ {
		for i, off := range offsets {
			if cycle > 0 && i == 0 && off == 0 {
				continue
			}
			t := base + off
			if t >= limit {
				return targets
			}
			targets = append(targets, secondsToDuration(t))
		}
		if span <= 0 {
			return targets
		}
		base += span
	}
}

// partition assigns slots to workers round-robin by global sequence. Within a
// worker, slot order equals schedule order, and no slot is ever shared.
func partition(sched *Schedule, workers int) {
	sched.Workers = make([][]Slot, workers)
	for i := range sched.Slots {
		w := i % workers
		sched.Slots[i].Worker = w
		sched.Workers[w] = append(sched.Workers[w], sched.Slots[i])
	}
}
