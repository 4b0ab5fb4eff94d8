// Package slo evaluates pass/fail objectives against the run aggregates, so a
// benchmark can gate a CI pipeline instead of just printing numbers.
package slo

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/inferload/inferload/internal/aggregate"
)

// Objective is a single performance assertion over the run-level stats.
type Objective struct {
	Metric    string  `json:"metric" yaml:"metric"`       // e.g. "ttft", "error_rate", "requests"
	Aggregate string  `json:"aggregate" yaml:"aggregate"` // e.g. "p95", "mean", "rate"
	Operator  string  `json:"operator" yaml:"operator"`   // one of <, <=, >, >=, ==
	Value     float64 `json:"value" yaml:"value"`         // latency objectives are in milliseconds
	Raw       string  `json:"raw" yaml:"raw"`             // original string for display
}

// Result is the outcome of evaluating one objective.
type Result struct {
	Objective Objective `json:"objective" yaml:"objective"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

// Evaluator checks a set of objectives against collected stats.
type Evaluator struct {
	objectives []Objective
}

// NewEvaluator creates an evaluator over the given objectives.
func NewEvaluator(objectives []Objective) *Evaluator {
	return &Evaluator{objectives: objectives}
}

// Evaluate checks every objective against the provided stats.
func (e *Evaluator) Evaluate(stats aggregate.Stats) []Result {
	if len(e.objectives) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.objectives))
	for _, o := range e.objectives {
		results = append(results, evaluateOne(o, stats))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(o Objective, stats aggregate.Stats) Result {
	actual, err := extract(o, stats)
	if err != nil {
		return Result{
			Objective: o,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compare(actual, o.Operator, o.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Objective: o,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, o.Raw, actual, o.Operator, o.Value),
	}
}

var objectivePattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9_]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses an objective string of the form "metric:aggregate op value".
// Supported forms:
//   - "ttft:p95 < 500"          (latency percentile in ms; also tpot, ntpot, itl, e2e)
//   - "ttft:mean < 200"         (mean latency in ms)
//   - "error_rate:rate < 0.01"  (failed+cancelled share of terminal requests)
//   - "requests:rate > 100"     (completed requests per second)
//   - "output_tokens:rate > 50" (output tokens per second)
//   - "timeouts:count == 0"     (per-request deadline hits)
func Parse(s string) (Objective, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Objective{}, fmt.Errorf("empty objective string")
	}

	matches := objectivePattern.FindStringSubmatch(s)
	if matches == nil {
		return Objective{}, fmt.Errorf("invalid objective format: %q (expected metric:aggregate operator value, e.g. 'ttft:p95 < 500')", s)
	}

	metric, agg, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Objective{}, fmt.Errorf("invalid objective value %q: %v", valueStr, err)
	}

	if !validMetric(metric) {
		return Objective{}, fmt.Errorf("unsupported metric: %q (supported: ttft, tpot, ntpot, itl, e2e, error_rate, requests, output_tokens, timeouts)", metric)
	}
	if !validAggregate(agg) {
		return Objective{}, fmt.Errorf("unsupported aggregate: %q (supported: p50, p90, p95, p99, mean, min, max, rate, count)", agg)
	}
	if !validOperator(operator) {
		return Objective{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Objective{
		Metric:    metric,
		Aggregate: agg,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses several objective strings, collecting every error.
func ParseMultiple(specs []string) ([]Objective, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	result := make([]Objective, 0, len(specs))
	var errs []string

	for i, s := range specs {
		o, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("objective[%d]: %v", i, err))
			continue
		}
		result = append(result, o)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("objective parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

func validMetric(metric string) bool {
	switch metric {
	case "ttft", "tpot", "ntpot", "itl", "e2e", "error_rate", "requests", "output_tokens", "timeouts":
		return true
	}
	return false
}

func validAggregate(agg string) bool {
	switch agg {
	case "p50", "p90", "p95", "p99", "mean", "min", "max", "rate", "count":
		return true
	}
	return false
}

func validOperator(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "==":
		return true
	}
	return false
}

func extract(o Objective, stats aggregate.Stats) (float64, error) {
	switch o.Metric {
	case "ttft":
		return latencyValue(o.Aggregate, stats.TTFT)
	case "tpot":
		return latencyValue(o.Aggregate, stats.TPOT)
	case "ntpot":
		return latencyValue(o.Aggregate, stats.NTPOT)
	case "itl":
		return latencyValue(o.Aggregate, stats.ITL)
	case "e2e":
		return latencyValue(o.Aggregate, stats.E2E)
	case "error_rate":
		if o.Aggregate != "rate" {
			return 0, fmt.Errorf("error_rate supports only the rate aggregate")
		}
		return stats.ErrorRate, nil
	case "requests":
		switch o.Aggregate {
		case "rate":
			return stats.RequestsPerSec, nil
		case "count":
			return float64(stats.Completed), nil
		}
		return 0, fmt.Errorf("requests supports only rate and count aggregates")
	case "output_tokens":
		switch o.Aggregate {
		case "rate":
			return stats.OutputTokPerSec, nil
		case "count":
			return float64(stats.OutputTokens), nil
		}
		return 0, fmt.Errorf("output_tokens supports only rate and count aggregates")
	case "timeouts":
		if o.Aggregate != "count" {
			return 0, fmt.Errorf("timeouts supports only the count aggregate")
		}
		return float64(stats.Timeouts), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", o.Metric)
	}
}

func latencyValue(agg string, d aggregate.DistSummary) (float64, error) {
	switch agg {
	case "p50":
		return d.P50Ms, nil
	case "p90":
		return d.P90Ms, nil
	case "p95":
		return d.P95Ms, nil
	case "p99":
		return d.P99Ms, nil
	case "mean":
		return d.MeanMs, nil
	case "min":
		return d.MinMs, nil
	case "max":
		return d.MaxMs, nil
	default:
		return 0, fmt.Errorf("%s is not a latency aggregate", agg)
	}
}

func compare(actual float64, operator string, value float64) bool {
	const epsilon = 1e-9
	switch operator {
	case "<":
		return actual < value
	case "<=":
		return actual <= value
	case ">":
		return actual > value
	case ">=":
		return actual >= value
	case "==":
		return math.Abs(actual-value) < epsilon
	default:
		return false
	}
}
