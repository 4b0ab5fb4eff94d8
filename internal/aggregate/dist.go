package aggregate

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Dist accumulates one latency metric: count, sum, sum of squares, extrema,
// and an HDR histogram sketch for bounded-relative-error percentiles. All of
// its accumulation is commutative and associative, so folding the same samples
// in any order or partition yields the same summary.
type Dist struct {
	count int64
	sum   time.Duration
	sumSq float64 // seconds², for stddev
	min   time.Duration
	max   time.Duration
	hist  *hdrhistogram.Histogram
}

// newDist tracks values from 1µs up to 10min with 3 significant figures.
func newDist() *Dist {
	return &Dist{hist: hdrhistogram.New(1, 600_000_000, 3)}
}

// Record folds one sample.
func (d *Dist) Record(v time.Duration) {
	d.count++
	d.sum += v
	sec := v.Seconds()
	d.sumSq += sec * sec
	if d.min == 0 || v < d.min {
		d.min = v
	}
	if v > d.max {
		d.max = v
	}
	us := v.Microseconds()
	if us < d.hist.LowestTrackableValue() {
		us = d.hist.LowestTrackableValue()
	}
	if us > d.hist.HighestTrackableValue() {
		us = d.hist.HighestTrackableValue()
	}
	_ = d.hist.RecordValue(us)
}

// Merge folds other into d. Histogram merges are order-independent up to the
// sketch's documented error bound.
func (d *Dist) Merge(other *Dist) {
	if other == nil || other.count == 0 {
		return
	}
	d.count += other.count
	d.sum += other.sum
	d.sumSq += other.sumSq
	if d.min == 0 || (other.min > 0 && other.min < d.min) {
		d.min = other.min
	}
	if other.max > d.max {
		d.max = other.max
	}
	d.hist.Merge(other.hist)
}

// DistSummary is the JSON-friendly summary of one metric distribution.
type DistSummary struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`

	Mean time.Duration `json:"-"`
	Min  time.Duration `json:"-"`
	Max  time.Duration `json:"-"`
	P50  time.Duration `json:"-"`
	P90  time.Duration `json:"-"`
	P95  time.Duration `json:"-"`
	P99  time.Duration `json:"-"`
}

// Summary computes the current summary.
func (d *Dist) Summary() DistSummary {
	s := DistSummary{Count: d.count}
	if d.count == 0 {
		return s
	}
	s.Mean = d.sum / time.Duration(d.count)
	s.Min = d.min
	s.Max = d.max
	if d.hist.TotalCount() > 0 {
		s.P50 = time.Duration(d.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P90 = time.Duration(d.hist.ValueAtQuantile(90)) * time.Microsecond
		s.P95 = time.Duration(d.hist.ValueAtQuantile(95)) * time.Microsecond
		s.P99 = time.Duration(d.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	s.MeanMs = ms(s.Mean)
	s.MinMs = ms(s.Min)
	s.MaxMs = ms(s.Max)
	s.P50Ms = ms(s.P50)
	s.P90Ms = ms(s.P90)
	s.P95Ms = ms(s.P95)
	s.P99Ms = ms(s.P99)
	return s
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
