package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inferload/inferload/internal/bench"
	"github.com/inferload/inferload/internal/prompts"
	"github.com/inferload/inferload/internal/record"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/slo"
	"github.com/inferload/inferload/internal/transport"
)

// runBenchmark executes a small real run so report tests exercise the same
// structures production does.
func runBenchmark(t *testing.T) (*schedule.Schedule, *bench.Outcome, *bench.Engine) {
	t.Helper()
	sched, err := schedule.Build(schedule.Plan{
		Stages:      []schedule.Stage{{Shape: schedule.ShapeBurst, Bursts: []schedule.BurstPoint{{At: 0, Count: 10}}, Duration: 200 * time.Millisecond}},
		WorkerCount: 2,
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng, err := bench.New(bench.Options{
		Schedule:    sched,
		Adapter:     transport.NewMock(transport.MockConfig{Tokens: 3, InputTokens: 5}),
		Prompts:     prompts.NewRandom(1, 4, 8),
		KeepRecords: true,
		Log:         logrus.NewEntry(logger),
	})
	if err != nil {
		t.Fatalf("bench.New() error = %v", err)
	}
	outcome := eng.Run(context.Background())
	return sched, outcome, eng
}

func TestBuildReport(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)
	rep := Build(sched, outcome, eng.Aggregator(), Options{Adapter: "mock", KeepRecords: true})

	if rep.RunID != sched.RunID {
		t.Fatalf("run id = %s, want %s", rep.RunID, sched.RunID)
	}
	if rep.Adapter != "mock" {
		t.Fatalf("adapter = %s, want mock", rep.Adapter)
	}
	if rep.Completeness != bench.Complete {
		t.Fatalf("completeness = %s, want complete", rep.Completeness)
	}
	if rep.Run.Completed != 10 {
		t.Fatalf("run completed = %d, want 10", rep.Run.Completed)
	}
	if len(rep.Records) != 10 {
		t.Fatalf("records = %d, want 10", len(rep.Records))
	}
	if len(rep.Phases) != 1 || rep.Phases[0].SlotCount != 10 {
		t.Fatalf("phases = %+v", rep.Phases)
	}
	if len(rep.SLO) != 0 || !rep.SLOsPass {
		t.Fatalf("no objectives configured: SLO = %+v, pass = %v", rep.SLO, rep.SLOsPass)
	}
}

func TestBuildReportObjectives(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)

	objs, err := slo.ParseMultiple([]string{
		"requests:count >= 10",
		"error_rate:rate == 0",
		"ttft:p99 < 0.001", // impossible, must fail
	})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	rep := Build(sched, outcome, eng.Aggregator(), Options{SLOs: objs})

	if len(rep.SLO) != 3 {
		t.Fatalf("SLO results = %d, want 3", len(rep.SLO))
	}
	if !rep.SLO[0].Pass || !rep.SLO[1].Pass || rep.SLO[2].Pass {
		t.Fatalf("unexpected objective outcomes: %+v", rep.SLO)
	}
	if rep.SLOsPass {
		t.Fatal("SLOsPass should be false with a failing objective")
	}

	var buf bytes.Buffer
	WriteText(&buf, rep)
	if !strings.Contains(buf.String(), "Objectives:") {
		t.Fatalf("text output should list objectives:\n%s", buf.String())
	}
}

func TestBuildReportPricePerformance(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)
	rep := Build(sched, outcome, eng.Aggregator(), Options{HourlyCost: 12.0})
	if rep.CostPerMTok <= 0 {
		t.Fatalf("cost per mtok = %g, want positive with hourly cost set", rep.CostPerMTok)
	}

	free := Build(sched, outcome, eng.Aggregator(), Options{})
	if free.CostPerMTok != 0 {
		t.Fatalf("cost per mtok = %g, want 0 without hourly cost", free.CostPerMTok)
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)
	rep := Build(sched, outcome, eng.Aggregator(), Options{Adapter: "mock"})

	var buf bytes.Buffer
	if err := WriteJSON(&buf, rep); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var decoded RunReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.RunID != rep.RunID {
		t.Fatalf("run id = %s, want %s", decoded.RunID, rep.RunID)
	}
	if decoded.Run.Completed != rep.Run.Completed {
		t.Fatalf("completed = %d, want %d", decoded.Run.Completed, rep.Run.Completed)
	}
	if decoded.Run.TTFT.P50Ms != rep.Run.TTFT.P50Ms {
		t.Fatalf("ttft p50 = %g, want %g", decoded.Run.TTFT.P50Ms, rep.Run.TTFT.P50Ms)
	}
}

func TestWriteYAML(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)
	rep := Build(sched, outcome, eng.Aggregator(), Options{Adapter: "mock"})

	var buf bytes.Buffer
	if err := WriteYAML(&buf, rep); err != nil {
		t.Fatalf("WriteYAML() error = %v", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if decoded["run_id"] != rep.RunID {
		t.Fatalf("yaml run_id = %v, want %s", decoded["run_id"], rep.RunID)
	}
}

func TestWriteTextMentionsKeyFigures(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)
	rep := Build(sched, outcome, eng.Aggregator(), Options{Adapter: "mock", HourlyCost: 3})

	var buf bytes.Buffer
	WriteText(&buf, rep)
	out := buf.String()
	for _, want := range []string{rep.RunID, "Completed:", "TTFT", "Price-Performance"} {
		if !strings.Contains(out, want) {
			t.Fatalf("text report missing %q:\n%s", want, out)
		}
	}
}

func TestSaveByExtension(t *testing.T) {
	sched, outcome, eng := runBenchmark(t)
	rep := Build(sched, outcome, eng.Aggregator(), Options{Adapter: "mock"})
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "report.json")
	if err := Save(jsonPath, rep); err != nil {
		t.Fatalf("Save(json) error = %v", err)
	}
	yamlPath := filepath.Join(dir, "report.yaml")
	if err := Save(yamlPath, rep); err != nil {
		t.Fatalf("Save(yaml) error = %v", err)
	}

	var fromJSON RunReport
	data := readFile(t, jsonPath)
	if err := json.Unmarshal(data, &fromJSON); err != nil {
		t.Fatalf("saved json invalid: %v", err)
	}
	var fromYAML RunReport
	if err := yaml.Unmarshal(readFile(t, yamlPath), &fromYAML); err != nil {
		t.Fatalf("saved yaml invalid: %v", err)
	}
	if fromJSON.RunID != rep.RunID || fromYAML.RunID != rep.RunID {
		t.Fatal("saved reports lost the run id")
	}
}

func TestRecordsSidecarRoundTrip(t *testing.T) {
	_, outcome, _ := runBenchmark(t)
	path := filepath.Join(t.TempDir(), "records.cbor")
	if err := SaveRecords(path, outcome.Records); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}

	loaded, err := LoadRecords(path)
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if len(loaded) != len(outcome.Records) {
		t.Fatalf("loaded %d records, want %d", len(loaded), len(outcome.Records))
	}
	byID := make(map[string]*record.Snapshot, len(outcome.Records))
	for _, rec := range outcome.Records {
		byID[rec.ID] = rec
	}
	for _, rec := range loaded {
		orig, ok := byID[rec.ID]
		if !ok {
			t.Fatalf("loaded unknown record %s", rec.ID)
		}
		if rec.Status != orig.Status || rec.OutputTokens != orig.OutputTokens {
			t.Fatalf("record %s drifted: %+v vs %+v", rec.ID, rec, orig)
		}
		if !rec.SubmitTime.Equal(orig.SubmitTime) {
			t.Fatalf("record %s submit time drifted", rec.ID)
		}
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
