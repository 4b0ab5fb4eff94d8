package dashboard

import (
	"strings"
	"testing"

	"github.com/inferload/inferload/internal/aggregate"
)

func TestDistTextEmpty(t *testing.T) {
	if got := distText(aggregate.DistSummary{}); got != "No samples yet" {
		t.Fatalf("distText(empty) = %q", got)
	}
}

func TestDistTextFormatsPercentiles(t *testing.T) {
	got := distText(aggregate.DistSummary{
		Count:  10,
		MeanMs: 123.45,
		P50Ms:  100.2,
		P90Ms:  180.0,
		P95Ms:  200.5,
		P99Ms:  250.9,
	})
	for _, want := range []string{"mean 123.5ms", "p50 100.2ms", "p90 180.0ms", "p95 200.5ms", "p99 250.9ms"} {
		if !strings.Contains(got, want) {
			t.Fatalf("distText output %q missing %q", got, want)
		}
	}
}
