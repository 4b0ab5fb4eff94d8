package config

import (
	"github.com/spf13/cobra"
)

// RegisterFlags registers all CLI flags on the root command. Flag values
// override config-file values only when explicitly set.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringP("config", "c", "", "Path to YAML config file with the load plan")

	// Plan overrides
	flags.Int("workers", 0, "Number of parallel dispatch workers")
	flags.Int64("seed", 0, "Seed for schedule generation (0 = deterministic default)")
	flags.Duration("timeout", 0, "Per-request deadline")
	flags.Duration("drift", 0, "Dispatch drift tolerance before a slot is dropped")
	flags.String("overrun", "", "Missed-slot policy: drop or catchup")

	// Adapter
	flags.String("adapter", "", "Transport adapter: mock, openai, sse, websocket")
	flags.String("url", "", "Endpoint URL (base URL for openai, full URL otherwise)")
	flags.String("model", "", "Model name sent to the endpoint")
	flags.String("api-key", "", "API key for the endpoint")

	// Dataset
	flags.String("dataset", "", "Prompt source: random or file")
	flags.String("dataset-path", "", "Dataset file (.jsonl or .csv)")

	// Output
	flags.Bool("json", false, "Print the report as JSON instead of text")
	flags.String("report", "", "Write the report to this path (.json or .yaml)")
	flags.String("records", "", "Write raw per-request records to this CBOR file")
	flags.Bool("keep-records", false, "Retain per-request records in the report")
	flags.Float64("hourly-cost", 0, "Accelerator cost per hour for price-performance")
	flags.Bool("dashboard", false, "Show the live terminal dashboard")
	flags.String("live-addr", "", "Serve live metric snapshots on this address")

	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Int("abort-threshold", 0, "Connection failures that prove the target unreachable")
	flags.StringSlice("slo", nil, "Pass/fail objective, e.g. 'ttft:p95 < 500' (repeatable)")
}
