package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults mirror a small local smoke run so `inferload --adapter mock` does
// something sensible with no config file.
func defaults(v *viper.Viper) {
	v.SetDefault("plan.workers", 4)
	v.SetDefault("plan.per_request_timeout", 30*time.Second)
	v.SetDefault("plan.drift_tolerance", 500*time.Millisecond)
	v.SetDefault("plan.overrun_policy", "drop")
	v.SetDefault("adapter.kind", "mock")
	v.SetDefault("adapter.timeout", 10*time.Second)
	v.SetDefault("adapter.mock_ttft", 50*time.Millisecond)
	v.SetDefault("adapter.mock_itl", 10*time.Millisecond)
	v.SetDefault("adapter.mock_tokens", 64)
	v.SetDefault("dataset.kind", "random")
	v.SetDefault("dataset.words", 128)
	v.SetDefault("dataset.target_output", 128)
	v.SetDefault("dataset.cycle", true)
	v.SetDefault("channel_capacity", 1024)
	v.SetDefault("drain_grace", 5*time.Second)
	v.SetDefault("abort_threshold", 20)
	v.SetDefault("log_level", "info")
}

// Load reads the optional config file and merges flag overrides on top.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{ConfigFile: configPath}
	decode := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decode); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// bindFlags maps changed CLI flags onto their config keys so flags always win
// over file values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"workers":         "plan.workers",
		"seed":            "plan.seed",
		"timeout":         "plan.per_request_timeout",
		"drift":           "plan.drift_tolerance",
		"overrun":         "plan.overrun_policy",
		"adapter":         "adapter.kind",
		"url":             "adapter.url",
		"model":           "adapter.model",
		"api-key":         "adapter.api_key",
		"dataset":         "dataset.kind",
		"dataset-path":    "dataset.path",
		"json":            "output.json",
		"report":          "output.report_path",
		"records":         "output.records_path",
		"keep-records":    "output.keep_records",
		"hourly-cost":     "output.hourly_cost",
		"dashboard":       "output.dashboard",
		"live-addr":       "output.live_addr",
		"log-level":       "log_level",
		"abort-threshold": "abort_threshold",
		"slo":             "slo",
	}
	var err error
	for flagName, key := range bindings {
		if f := flags.Lookup(flagName); f != nil && f.Changed {
			if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
				err = bindErr
			}
		}
	}
	return err
}
