package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/inferload/inferload/internal/aggregate"
	"github.com/inferload/inferload/internal/record"
)

// WriteText prints a human-readable summary.
func WriteText(w io.Writer, rep *RunReport) {
	fmt.Fprintf(w, "\n--- Benchmark Results (%s) ---\n", rep.RunID)
	fmt.Fprintf(w, "Adapter:           %s\n", rep.Adapter)
	fmt.Fprintf(w, "Completeness:      %s\n", rep.Completeness)
	if rep.AbortReason != "" {
		fmt.Fprintf(w, "Abort Reason:      %s\n", rep.AbortReason)
	}
	fmt.Fprintf(w, "Duration:          %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))

	writeStats(w, "Run", rep.Run)
	for _, st := range rep.Stages {
		writeStats(w, fmt.Sprintf("Stage %d", st.StageID), st)
	}
	if rep.CostPerMTok > 0 {
		fmt.Fprintf(w, "\nPrice-Performance: $%.4f per 1M output tokens\n", rep.CostPerMTok)
	}
	if len(rep.SLO) > 0 {
		fmt.Fprintf(w, "\nObjectives:\n")
		for _, r := range rep.SLO {
			fmt.Fprintf(w, "  %s\n", r.Message)
		}
	}
}

func writeStats(w io.Writer, label string, s aggregate.Stats) {
	fmt.Fprintf(w, "\n%s:\n", label)
	fmt.Fprintf(w, "  Scheduled:       %d\n", s.Scheduled)
	fmt.Fprintf(w, "  Completed:       %d\n", s.Completed)
	fmt.Fprintf(w, "  Failed:          %d (timeouts: %d)\n", s.Failed, s.Timeouts)
	fmt.Fprintf(w, "  Cancelled:       %d\n", s.Cancelled)
	fmt.Fprintf(w, "  Overruns:        %d\n", s.Overruns)
	if s.SaturationDrops > 0 {
		fmt.Fprintf(w, "  Saturation Drops: %d\n", s.SaturationDrops)
	}
	fmt.Fprintf(w, "  Requests/sec:    %.2f\n", s.RequestsPerSec)
	fmt.Fprintf(w, "  Output tok/sec:  %.2f\n", s.OutputTokPerSec)
	fmt.Fprintf(w, "  Tokens in/out:   %d / %d\n", s.InputTokens, s.OutputTokens)
	writeDist(w, "TTFT", s.TTFT)
	writeDist(w, "TPOT", s.TPOT)
	writeDist(w, "ITL", s.ITL)
	writeDist(w, "E2E", s.E2E)
}

func writeDist(w io.Writer, label string, d aggregate.DistSummary) {
	if d.Count == 0 {
		return
	}
	fmt.Fprintf(w, "  %-5s mean=%s p50=%s p90=%s p95=%s p99=%s max=%s\n",
		label, d.Mean, d.P50, d.P90, d.P95, d.P99, d.Max)
}

// WriteJSON emits the full report as indented JSON.
func WriteJSON(w io.Writer, rep *RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteYAML emits the full report as YAML.
func WriteYAML(w io.Writer, rep *RunReport) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(rep)
}

// Save writes the report to path, format chosen by extension (.json or
// .yaml). The file is guarded with an advisory lock so concurrent runs
// pointed at the same path cannot interleave their writes.
func Save(path string, rep *RunReport) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	defer lock.Unlock()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return WriteYAML(file, rep)
	default:
		return WriteJSON(file, rep)
	}
}

// SaveRecords writes the raw per-request snapshots as a CBOR sidecar, far
// smaller than JSON for runs with millions of requests.
func SaveRecords(path string, records []*record.Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create records file: %w", err)
	}
	defer file.Close()

	enc := cbor.NewEncoder(file)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// LoadRecords reads a CBOR record sidecar back, mainly for analysis tooling
// and tests.
func LoadRecords(path string) ([]*record.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records file: %w", err)
	}
	defer file.Close()

	var records []*record.Snapshot
	dec := cbor.NewDecoder(file)
	for {
		var rec record.Snapshot
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, &rec)
	}
}
