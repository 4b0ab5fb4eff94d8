// Package config loads and validates the benchmark run configuration from a
// YAML file merged with command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/slo"
	"github.com/inferload/inferload/internal/tracing"
)

// AdapterKind selects the transport adapter implementation.
type AdapterKind string

const (
	AdapterMock      AdapterKind = "mock"
	AdapterOpenAI    AdapterKind = "openai"
	AdapterSSE       AdapterKind = "sse"
	AdapterWebSocket AdapterKind = "websocket"
)

// AdapterConfig configures the transport boundary.
type AdapterConfig struct {
	Kind    AdapterKind       `mapstructure:"kind"`
	URL     string            `mapstructure:"url"`
	Model   string            `mapstructure:"model"`
	APIKey  string            `mapstructure:"api_key"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`

	// Mock adapter knobs, used for dry runs and self-tests.
	MockTTFT   time.Duration `mapstructure:"mock_ttft"`
	MockITL    time.Duration `mapstructure:"mock_itl"`
	MockTokens int           `mapstructure:"mock_tokens"`
}

// DatasetConfig configures the prompt source.
type DatasetConfig struct {
	Kind         string `mapstructure:"kind"` // "random" or "file"
	Path         string `mapstructure:"path"`
	Cycle        bool   `mapstructure:"cycle"`
	Words        int    `mapstructure:"words"`
	TargetOutput int    `mapstructure:"target_output"`
}

// OutputConfig configures reporting and live observation.
type OutputConfig struct {
	JSON        bool    `mapstructure:"json"`
	ReportPath  string  `mapstructure:"report_path"`
	RecordsPath string  `mapstructure:"records_path"`
	KeepRecords bool    `mapstructure:"keep_records"`
	HourlyCost  float64 `mapstructure:"hourly_cost"`
	Dashboard   bool    `mapstructure:"dashboard"`
	LiveAddr    string  `mapstructure:"live_addr"`
}

// Config is the complete run configuration.
type Config struct {
	Plan    schedule.Plan  `mapstructure:"plan"`
	Adapter AdapterConfig  `mapstructure:"adapter"`
	Dataset DatasetConfig  `mapstructure:"dataset"`
	Output  OutputConfig   `mapstructure:"output"`
	Tracing tracing.Config `mapstructure:"tracing"`

	ChannelCapacity int           `mapstructure:"channel_capacity"`
	DrainGrace      time.Duration `mapstructure:"drain_grace"`
	AbortThreshold  int           `mapstructure:"abort_threshold"`
	LogLevel        string        `mapstructure:"log_level"`

	// SLOs are pass/fail objectives evaluated against the final run stats,
	// e.g. "ttft:p95 < 500". Any failing objective makes the run exit non-zero.
	SLOs []string `mapstructure:"slo"`

	ConfigFile string `mapstructure:"-"`
}

// ValidationError accumulates every configuration problem found so the user
// can fix them in one pass. It is always fatal before the run begins.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

// Issues returns the individual problems.
func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the whole configuration. Any issue means the run never
// begins.
func (c Config) Validate() error {
	var issues []string

	if err := c.Plan.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	switch c.Adapter.Kind {
	case AdapterMock:
	case AdapterOpenAI, AdapterSSE, AdapterWebSocket:
		if strings.TrimSpace(c.Adapter.URL) == "" {
			issues = append(issues, fmt.Sprintf("%s adapter requires a url", c.Adapter.Kind))
		}
		if c.Adapter.Kind != AdapterWebSocket && strings.TrimSpace(c.Adapter.Model) == "" {
			issues = append(issues, fmt.Sprintf("%s adapter requires a model", c.Adapter.Kind))
		}
	case "":
		issues = append(issues, "adapter kind is required")
	default:
		issues = append(issues, fmt.Sprintf("unknown adapter kind %q", c.Adapter.Kind))
	}

	switch c.Dataset.Kind {
	case "", "random":
	case "file":
		if strings.TrimSpace(c.Dataset.Path) == "" {
			issues = append(issues, "file dataset requires a path")
		}
	default:
		issues = append(issues, fmt.Sprintf("unknown dataset kind %q", c.Dataset.Kind))
	}

	if c.ChannelCapacity < 0 {
		issues = append(issues, "channel_capacity must be >= 0")
	}
	if c.DrainGrace < 0 {
		issues = append(issues, "drain_grace must be >= 0")
	}
	if c.Output.Dashboard && c.Output.JSON {
		issues = append(issues, "dashboard and json output are mutually exclusive")
	}
	if _, err := slo.ParseMultiple(c.SLOs); err != nil {
		issues = append(issues, err.Error())
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
