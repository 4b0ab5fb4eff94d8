package schedule

import (
	"testing"
	"time"
)

func TestPlanValidate(t *testing.T) {
	valid := Stage{Shape: ShapeConstant, Rate: 1, Duration: time.Second}
	tests := []struct {
		name string
		plan Plan
		ok   bool
	}{
		{"valid", Plan{Stages: []Stage{valid}, WorkerCount: 1}, true},
		{"no workers", Plan{Stages: []Stage{valid}}, false},
		{"no stages", Plan{WorkerCount: 1}, false},
		{"negative drift", Plan{Stages: []Stage{valid}, WorkerCount: 1, DriftTolerance: -time.Second}, false},
		{"bad overrun", Plan{Stages: []Stage{valid}, WorkerCount: 1, Overrun: "punt"}, false},
		{"zero rate", Plan{Stages: []Stage{{Shape: ShapeConstant, Duration: time.Second}}, WorkerCount: 1}, false},
		{"zero duration", Plan{Stages: []Stage{{Shape: ShapeConstant, Rate: 1}}, WorkerCount: 1}, false},
		{"rate_max below rate", Plan{Stages: []Stage{{Shape: ShapeConstant, Rate: 5, RateMax: 2, Duration: time.Second}}, WorkerCount: 1}, false},
		{"negative cap", Plan{Stages: []Stage{{Shape: ShapeConstant, Rate: 1, Duration: time.Second, ConcurrencyCap: -1}}, WorkerCount: 1}, false},
		{"burst no points", Plan{Stages: []Stage{{Shape: ShapeBurst}}, WorkerCount: 1}, false},
		{"burst zero count", Plan{Stages: []Stage{{Shape: ShapeBurst, Bursts: []BurstPoint{{Count: 0}}}}, WorkerCount: 1}, false},
		{"trace unordered", Plan{Stages: []Stage{{Shape: ShapeTrace, TraceOffsets: []float64{0, 2, 1}}}, WorkerCount: 1}, false},
		{"trace by file", Plan{Stages: []Stage{{Shape: ShapeTrace, TraceFile: "t.json", Duration: time.Second}}, WorkerCount: 1}, true},
		{"unknown shape", Plan{Stages: []Stage{{Shape: "sawtooth", Rate: 1, Duration: time.Second}}, WorkerCount: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSweepRates(t *testing.T) {
	s := Stage{Rate: 2, RateMax: 5}
	rates := s.sweepRates()
	want := []float64{2, 3, 4, 5}
	if len(rates) != len(want) {
		t.Fatalf("rates = %v, want %v", rates, want)
	}
	for i := range want {
		if rates[i] != want[i] {
			t.Fatalf("rates[%d] = %g, want %g", i, rates[i], want[i])
		}
	}

	flat := Stage{Rate: 3}
	if rates := flat.sweepRates(); len(rates) != 1 || rates[0] != 3 {
		t.Fatalf("flat rates = %v, want [3]", rates)
	}
}

func TestStageImplicitDuration(t *testing.T) {
	burst := Stage{Shape: ShapeBurst, Bursts: []BurstPoint{{At: 3 * time.Second, Count: 1}, {At: time.Second, Count: 2}}}
	if got := burst.duration(); got != 4*time.Second {
		t.Fatalf("burst duration = %s, want last burst + 1s", got)
	}

	trace := Stage{Shape: ShapeTrace, TraceOffsets: []float64{0, 1.5}}
	if got := trace.duration(); got != 2500*time.Millisecond {
		t.Fatalf("trace duration = %s, want last offset + 1s", got)
	}

	explicit := Stage{Shape: ShapeConstant, Duration: 7 * time.Second}
	if got := explicit.duration(); got != 7*time.Second {
		t.Fatalf("explicit duration = %s", got)
	}
}
