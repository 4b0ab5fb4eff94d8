package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/transport"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func tokenEvent(at time.Time) transport.Event {
	return transport.Event{Kind: transport.KindToken, At: at, Text: "tok"}
}

func doneEvent(at time.Time) transport.Event {
	return transport.Event{Kind: transport.KindDone, At: at}
}

// completedSnap fabricates a terminal completed snapshot with the given
// latencies baked into its timestamps.
func completedSnap(stage int, submit time.Time, ttft, itl time.Duration, tokens int) *record.Snapshot {
	r := record.NewRecorder("req", stage, 0, submit)
	at := submit.Add(ttft)
	for i := 0; i < tokens; i++ {
		if _, err := r.Observe(tokenEvent(at)); err != nil {
			panic(err)
		}
		at = at.Add(itl)
	}
	snap, err := r.Observe(doneEvent(at))
	if err != nil {
		panic(err)
	}
	return snap
}

func stages(n int, scheduled int) []schedule.StageInfo {
	out := make([]schedule.StageInfo, n)
	for i := range out {
		out[i] = schedule.StageInfo{ID: i, SlotCount: scheduled}
	}
	return out
}

func TestFoldOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	snaps := make([]*record.Snapshot, 0, 500)
	for i := 0; i < 500; i++ {
		ttft := time.Duration(10+rng.Intn(200)) * time.Millisecond
		itl := time.Duration(1+rng.Intn(40)) * time.Millisecond
		snaps = append(snaps, completedSnap(0, base.Add(time.Duration(i)*time.Millisecond), ttft, itl, 1+rng.Intn(30)))
	}

	forward := New(stages(1, 500))
	for _, s := range snaps {
		forward.Fold(s)
	}
	backward := New(stages(1, 500))
	for i := len(snaps) - 1; i >= 0; i-- {
		backward.Fold(snaps[i])
	}

	a, _ := forward.StageStats(0)
	b, _ := backward.StageStats(0)
	if a != b {
		t.Fatalf("fold order changed stats:\nforward:  %+v\nbackward: %+v", a, b)
	}
}

func TestMergePartitionIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	snaps := make([]*record.Snapshot, 0, 400)
	for i := 0; i < 400; i++ {
		ttft := time.Duration(5+rng.Intn(100)) * time.Millisecond
		snaps = append(snaps, completedSnap(0, base.Add(time.Duration(i)*10*time.Millisecond), ttft, 12*time.Millisecond, 8))
	}

	// One worker folds everything.
	single := newStageAggregate(0, 400)
	for _, s := range snaps {
		single.Fold(s)
	}

	// Four workers fold a round-robin split, merged afterwards.
	parts := make([]*StageAggregate, 4)
	for i := range parts {
		parts[i] = newStageAggregate(0, 0)
	}
	for i, s := range snaps {
		parts[i%4].Fold(s)
	}
	merged := newStageAggregate(0, 400)
	for _, p := range parts {
		merged.Merge(p)
	}

	a, b := single.stats(), merged.stats()
	if a != b {
		t.Fatalf("partitioned merge changed stats:\nsingle: %+v\nmerged: %+v", a, b)
	}
}

func TestFoldExcludesFailuresFromLatency(t *testing.T) {
	agg := New(stages(1, 3))
	agg.Fold(completedSnap(0, base, 100*time.Millisecond, 10*time.Millisecond, 5))

	failRec := record.NewRecorder("fail", 0, 0, base)
	failSnap := failRec.FinalizeTimeout(base.Add(30 * time.Second))
	agg.Fold(failSnap)

	cancelRec := record.NewRecorder("cancel", 0, 0, base)
	cancelSnap := cancelRec.FinalizeCancel(base.Add(time.Second), record.ReasonShutdown)
	agg.Fold(cancelSnap)

	s, ok := agg.StageStats(0)
	if !ok {
		t.Fatal("stage 0 missing")
	}
	if s.Completed != 1 || s.Failed != 1 || s.Cancelled != 1 {
		t.Fatalf("counters = %d/%d/%d, want 1/1/1", s.Completed, s.Failed, s.Cancelled)
	}
	if s.Timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1", s.Timeouts)
	}
	if s.E2E.Count != 1 {
		t.Fatalf("e2e samples = %d, failed/cancelled leaked into the distribution", s.E2E.Count)
	}
	if s.TTFT.Count != 1 {
		t.Fatalf("ttft samples = %d, want 1", s.TTFT.Count)
	}
	if want := 2.0 / 3.0; s.ErrorRate < want-1e-9 || s.ErrorRate > want+1e-9 {
		t.Fatalf("error rate = %g, want %g", s.ErrorRate, want)
	}
}

func TestDistPercentiles(t *testing.T) {
	d := newDist()
	for i := 1; i <= 1000; i++ {
		d.Record(time.Duration(i) * time.Millisecond)
	}
	s := d.Summary()
	if s.Count != 1000 {
		t.Fatalf("count = %d, want 1000", s.Count)
	}
	// HDR sketch error is bounded at 3 significant figures.
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"p50", s.P50, 500 * time.Millisecond},
		{"p90", s.P90, 900 * time.Millisecond},
		{"p99", s.P99, 990 * time.Millisecond},
	}
	for _, c := range checks {
		relErr := float64((c.got - c.want).Abs()) / float64(c.want)
		if relErr > 0.01 {
			t.Fatalf("%s = %s, want about %s", c.name, c.got, c.want)
		}
	}
	if s.Min != time.Millisecond || s.Max != time.Second {
		t.Fatalf("extrema = %s/%s, want 1ms/1s", s.Min, s.Max)
	}
	if s.MeanMs < 500 || s.MeanMs > 501.5 {
		t.Fatalf("mean = %.2fms, want 500.5ms", s.MeanMs)
	}
}

func TestDistClampsOutOfRange(t *testing.T) {
	d := newDist()
	d.Record(100 * time.Nanosecond) // below 1µs resolution
	d.Record(time.Hour)             // above the 10min ceiling
	s := d.Summary()
	if s.Count != 2 {
		t.Fatalf("count = %d, want 2", s.Count)
	}
	// Exact min/max come from the side accumulators, not the sketch.
	if s.Min != 100*time.Nanosecond {
		t.Fatalf("min = %s, want 100ns", s.Min)
	}
	if s.Max != time.Hour {
		t.Fatalf("max = %s, want 1h", s.Max)
	}
}

func TestRunStatsMergesStages(t *testing.T) {
	agg := New(stages(2, 10))
	agg.Fold(completedSnap(0, base, 50*time.Millisecond, 10*time.Millisecond, 4))
	agg.Fold(completedSnap(1, base.Add(time.Second), 150*time.Millisecond, 10*time.Millisecond, 4))
	agg.AddOverruns(0, 3)
	agg.AddSaturationDrops(1, 2)

	run := agg.RunStats()
	if run.StageID != -1 {
		t.Fatalf("run stage id = %d, want -1", run.StageID)
	}
	if run.Scheduled != 20 || run.Completed != 2 {
		t.Fatalf("scheduled/completed = %d/%d, want 20/2", run.Scheduled, run.Completed)
	}
	if run.Overruns != 3 || run.SaturationDrops != 2 {
		t.Fatalf("overruns/drops = %d/%d, want 3/2", run.Overruns, run.SaturationDrops)
	}
	if run.TTFT.Count != 2 {
		t.Fatalf("run ttft samples = %d, want 2", run.TTFT.Count)
	}

	all := agg.AllStageStats()
	if len(all) != 2 || all[0].StageID != 0 || all[1].StageID != 1 {
		t.Fatalf("AllStageStats misordered: %+v", all)
	}
}

func TestFoldUnknownStageStillCounts(t *testing.T) {
	agg := New(nil)
	agg.Fold(completedSnap(9, base, 10*time.Millisecond, 5*time.Millisecond, 2))
	s, ok := agg.StageStats(9)
	if !ok {
		t.Fatal("unknown stage not tracked")
	}
	if s.Completed != 1 {
		t.Fatalf("completed = %d, want 1", s.Completed)
	}
}
