package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferload/inferload/internal/schedule"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleConfig = `
plan:
  workers: 8
  seed: 7
  per_request_timeout: 45s
  stages:
    - shape: constant
      rate: 10
      duration: 30s
      concurrency_cap: 16
    - shape: poisson
      rate: 20
      duration: 1m
adapter:
  kind: sse
  url: http://localhost:8000/v1/completions
  model: llama-3
dataset:
  kind: file
  path: prompts.jsonl
output:
  report_path: out.json
  hourly_cost: 24.5
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Plan.WorkerCount != 4 {
		t.Fatalf("workers = %d, want default 4", cfg.Plan.WorkerCount)
	}
	if cfg.Plan.PerRequestTimeout != 30*time.Second {
		t.Fatalf("timeout = %s, want 30s", cfg.Plan.PerRequestTimeout)
	}
	if cfg.Plan.Overrun != schedule.OverrunDrop {
		t.Fatalf("overrun = %s, want drop", cfg.Plan.Overrun)
	}
	if cfg.Adapter.Kind != AdapterMock {
		t.Fatalf("adapter = %s, want mock", cfg.Adapter.Kind)
	}
	if cfg.ChannelCapacity != 1024 {
		t.Fatalf("channel capacity = %d, want 1024", cfg.ChannelCapacity)
	}
	if cfg.AbortThreshold != 20 {
		t.Fatalf("abort threshold = %d, want 20", cfg.AbortThreshold)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Plan.WorkerCount != 8 || cfg.Plan.Seed != 7 {
		t.Fatalf("plan = workers %d seed %d, want 8/7", cfg.Plan.WorkerCount, cfg.Plan.Seed)
	}
	if cfg.Plan.PerRequestTimeout != 45*time.Second {
		t.Fatalf("timeout = %s, want 45s", cfg.Plan.PerRequestTimeout)
	}
	if len(cfg.Plan.Stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(cfg.Plan.Stages))
	}
	st := cfg.Plan.Stages[0]
	if st.Shape != schedule.ShapeConstant || st.Rate != 10 || st.Duration != 30*time.Second || st.ConcurrencyCap != 16 {
		t.Fatalf("stage 0 = %+v", st)
	}
	if cfg.Plan.Stages[1].Duration != time.Minute {
		t.Fatalf("stage 1 duration = %s, want 1m", cfg.Plan.Stages[1].Duration)
	}
	if cfg.Adapter.Kind != AdapterSSE || cfg.Adapter.Model != "llama-3" {
		t.Fatalf("adapter = %+v", cfg.Adapter)
	}
	if cfg.Dataset.Kind != "file" || cfg.Dataset.Path != "prompts.jsonl" {
		t.Fatalf("dataset = %+v", cfg.Dataset)
	}
	if cfg.Output.HourlyCost != 24.5 {
		t.Fatalf("hourly cost = %g, want 24.5", cfg.Output.HourlyCost)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cmd := &cobra.Command{}
	RegisterFlags(cmd)
	if err := cmd.Flags().Parse([]string{"--workers", "2", "--adapter", "openai", "--overrun", "catchup"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, cmd.Flags())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Plan.WorkerCount != 2 {
		t.Fatalf("workers = %d, flag did not win", cfg.Plan.WorkerCount)
	}
	if cfg.Adapter.Kind != AdapterOpenAI {
		t.Fatalf("adapter = %s, flag did not win", cfg.Adapter.Kind)
	}
	if cfg.Plan.Overrun != schedule.OverrunCatchup {
		t.Fatalf("overrun = %s, flag did not win", cfg.Plan.Overrun)
	}
	// Untouched flags leave file values alone.
	if cfg.Plan.Seed != 7 {
		t.Fatalf("seed = %d, want file value 7", cfg.Plan.Seed)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := &Config{
		Plan: schedule.Plan{
			WorkerCount: 0,
			Stages:      nil,
		},
		Adapter: AdapterConfig{Kind: "carrier-pigeon"},
		Dataset: DatasetConfig{Kind: "file"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	verr, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("error type %T, want ValidationError", err)
	}
	issues := verr.Issues()
	if len(issues) < 3 {
		t.Fatalf("issues = %d (%v), want workers + adapter + dataset at least", len(issues), issues)
	}
	msg := err.Error()
	for _, frag := range []string{"workers", "adapter", "path"} {
		if !strings.Contains(msg, frag) {
			t.Fatalf("error %q missing %q", msg, frag)
		}
	}
}

func TestValidateRemoteAdapterNeedsURL(t *testing.T) {
	cfg := &Config{
		Plan: schedule.Plan{
			WorkerCount: 1,
			Stages:      []schedule.Stage{{Shape: schedule.ShapeConstant, Rate: 1, Duration: time.Second}},
		},
		Adapter: AdapterConfig{Kind: AdapterOpenAI, Model: "gpt"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing url")
	}
	cfg.Adapter.URL = "http://localhost:8000/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateDashboardJSONConflict(t *testing.T) {
	cfg := &Config{
		Plan: schedule.Plan{
			WorkerCount: 1,
			Stages:      []schedule.Stage{{Shape: schedule.ShapeConstant, Rate: 1, Duration: time.Second}},
		},
		Adapter: AdapterConfig{Kind: AdapterMock},
		Output:  OutputConfig{Dashboard: true, JSON: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for dashboard with json output")
	}
}

func TestValidateMockNeedsNothing(t *testing.T) {
	cfg := &Config{
		Plan: schedule.Plan{
			WorkerCount: 2,
			Stages:      []schedule.Stage{{Shape: schedule.ShapePoisson, Rate: 3, Duration: 10 * time.Second}},
		},
		Adapter: AdapterConfig{Kind: AdapterMock},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateObjectives(t *testing.T) {
	cfg := &Config{
		Plan: schedule.Plan{
			WorkerCount: 1,
			Stages:      []schedule.Stage{{Shape: schedule.ShapeConstant, Rate: 1, Duration: time.Second}},
		},
		Adapter: AdapterConfig{Kind: AdapterMock},
		SLOs:    []string{"ttft:p95 < 500", "error_rate:rate < 0.01"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg.SLOs = append(cfg.SLOs, "nonsense objective")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed objective")
	}
}
