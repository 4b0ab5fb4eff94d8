// Command inferload generates rate-accurate streaming load against a
// generative inference endpoint and reports token-level latency.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferload/inferload/internal/aggregate"
	"github.com/inferload/inferload/internal/bench"
	"github.com/inferload/inferload/internal/config"
	"github.com/inferload/inferload/internal/dashboard"
	"github.com/inferload/inferload/internal/live"
	"github.com/inferload/inferload/internal/prompts"
	"github.com/inferload/inferload/internal/report"
	"github.com/inferload/inferload/internal/schedule"
	"github.com/inferload/inferload/internal/slo"
	"github.com/inferload/inferload/internal/tracereplay"
	"github.com/inferload/inferload/internal/tracing"
	"github.com/inferload/inferload/internal/transport"
	"github.com/inferload/inferload/internal/transport/openaistream"
	"github.com/inferload/inferload/internal/transport/ssehttp"
	"github.com/inferload/inferload/internal/transport/wsstream"
)

var version = "dev"

const liveInterval = time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inferload",
		Short:         "Token-level latency benchmark for streaming inference endpoints",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

func run(cmd *cobra.Command) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	if err := resolveTraces(&cfg.Plan); err != nil {
		return err
	}
	sched, err := schedule.Build(cfg.Plan)
	if err != nil {
		return fmt.Errorf("build schedule: %w", err)
	}
	log.WithFields(scheduleFields(sched)).Info("schedule compiled")

	adapter, err := newAdapter(cfg)
	if err != nil {
		return err
	}
	if cfg.Tracing.Enabled {
		adapter = transport.WithTracing(adapter, provider.Tracer())
	}

	source, err := newPromptSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	engine, err := bench.New(bench.Options{
		Schedule:        sched,
		Adapter:         adapter,
		Prompts:         source,
		ChannelCapacity: cfg.ChannelCapacity,
		DrainGrace:      cfg.DrainGrace,
		AbortThreshold:  cfg.AbortThreshold,
		KeepRecords:     cfg.Output.KeepRecords || cfg.Output.RecordsPath != "",
		OnStageComplete: func(s aggregate.Stats) {
			log.WithFields(logrus.Fields{
				"stage":     s.StageID,
				"completed": s.Completed,
				"failed":    s.Failed,
				"ttft_p50":  s.TTFT.P50Ms,
			}).Info("stage complete")
		},
		Log: log,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pub := live.NewPublisher(engine.Aggregator(), liveInterval)
	go pub.Run(runCtx)

	if cfg.Output.LiveAddr != "" {
		srv := live.NewServer(cfg.Output.LiveAddr, pub, log)
		srv.Start()
		defer srv.Stop()
	}

	var dash *dashboard.Dashboard
	if cfg.Output.Dashboard {
		dash, err = dashboard.New(pub, cancel)
		if err != nil {
			return fmt.Errorf("init dashboard: %w", err)
		}
		go dash.Start()
		defer dash.Stop()
	} else if !cfg.Output.JSON {
		go trackProgress(runCtx, pub, int64(len(sched.Slots)))
	}

	outcome := engine.Run(runCtx)

	// Cannot fail here: cfg.Validate already parsed these.
	objectives, err := slo.ParseMultiple(cfg.SLOs)
	if err != nil {
		return err
	}

	rep := report.Build(sched, outcome, engine.Aggregator(), report.Options{
		Adapter:     adapter.Name(),
		HourlyCost:  cfg.Output.HourlyCost,
		KeepRecords: cfg.Output.KeepRecords,
		SLOs:        objectives,
	})

	// Restore the terminal before printing anything.
	if dash != nil {
		dash.Stop()
	}

	if cfg.Output.JSON {
		if err := report.WriteJSON(os.Stdout, rep); err != nil {
			return err
		}
	} else {
		report.WriteText(os.Stdout, rep)
	}
	if cfg.Output.ReportPath != "" {
		if err := report.Save(cfg.Output.ReportPath, rep); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		log.WithField("path", cfg.Output.ReportPath).Info("report written")
	}
	if cfg.Output.RecordsPath != "" {
		if err := report.SaveRecords(cfg.Output.RecordsPath, outcome.Records); err != nil {
			return fmt.Errorf("save records: %w", err)
		}
		log.WithFields(logrus.Fields{
			"path":  cfg.Output.RecordsPath,
			"count": len(outcome.Records),
		}).Info("records written")
	}

	if outcome.Completeness == bench.Aborted {
		return fmt.Errorf("run aborted: %s", outcome.AbortReason)
	}
	if !rep.SLOsPass {
		return fmt.Errorf("run finished with failing objectives")
	}
	return nil
}

func newLogger(cfg *config.Config) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)
	if cfg.Output.Dashboard {
		// The dashboard owns the terminal; anything else on stderr
		// corrupts it.
		logger.SetOutput(io.Discard)
	}
	return logrus.NewEntry(logger), nil
}

// scheduleFields summarizes a compiled schedule for the startup log line.
// Counts only: the slot partition itself is far too large to serialize.
func scheduleFields(sched *schedule.Schedule) logrus.Fields {
	return logrus.Fields{
		"run_id":   sched.RunID,
		"stages":   len(sched.Stages),
		"requests": len(sched.Slots),
		"workers":  len(sched.Workers),
		"duration": sched.Duration,
	}
}

// resolveTraces loads stage trace files into inline offsets before the plan
// is compiled.
func resolveTraces(plan *schedule.Plan) error {
	for i := range plan.Stages {
		st := &plan.Stages[i]
		if st.TraceFile == "" || len(st.TraceOffsets) > 0 {
			continue
		}
		offsets, err := tracereplay.Load(st.TraceFile)
		if err != nil {
			return fmt.Errorf("stage %d: load trace %s: %w", i, st.TraceFile, err)
		}
		st.TraceOffsets = offsets
	}
	return nil
}

func newAdapter(cfg *config.Config) (transport.Adapter, error) {
	switch cfg.Adapter.Kind {
	case config.AdapterMock:
		return transport.NewMock(transport.MockConfig{
			TTFT:   cfg.Adapter.MockTTFT,
			ITL:    cfg.Adapter.MockITL,
			Tokens: cfg.Adapter.MockTokens,
		}), nil
	case config.AdapterOpenAI:
		return openaistream.New(openaistream.Config{
			BaseURL: cfg.Adapter.URL,
			APIKey:  cfg.Adapter.APIKey,
			Model:   cfg.Adapter.Model,
			Timeout: cfg.Adapter.Timeout,
		})
	case config.AdapterSSE:
		headers := cfg.Adapter.Headers
		if cfg.Adapter.APIKey != "" {
			if headers == nil {
				headers = map[string]string{}
			}
			headers["Authorization"] = "Bearer " + cfg.Adapter.APIKey
		}
		return ssehttp.New(ssehttp.Config{
			URL:     cfg.Adapter.URL,
			Model:   cfg.Adapter.Model,
			Headers: headers,
			Timeout: cfg.Adapter.Timeout,
		})
	case config.AdapterWebSocket:
		return wsstream.New(wsstream.Config{
			URL:              cfg.Adapter.URL,
			Model:            cfg.Adapter.Model,
			Headers:          cfg.Adapter.Headers,
			HandshakeTimeout: cfg.Adapter.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", cfg.Adapter.Kind)
	}
}

func newPromptSource(cfg *config.Config) (prompts.Source, error) {
	switch strings.ToLower(cfg.Dataset.Kind) {
	case "", "random":
		return prompts.NewRandom(cfg.Plan.Seed, cfg.Dataset.Words, cfg.Dataset.TargetOutput), nil
	case "file":
		return prompts.NewFile(cfg.Dataset.Path, cfg.Dataset.Cycle)
	default:
		return nil, fmt.Errorf("unknown dataset kind %q", cfg.Dataset.Kind)
	}
}

// trackProgress renders a terminal progress bar fed by the live publisher.
func trackProgress(ctx context.Context, pub *live.Publisher, total int64) {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("dispatching"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(200*time.Millisecond),
	)
	sub := pub.Subscribe()
	for {
		select {
		case <-ctx.Done():
			_ = bar.Finish()
			return
		case snap, ok := <-sub:
			if !ok {
				return
			}
			done := snap.Run.Completed + snap.Run.Failed + snap.Run.Cancelled +
				snap.Run.Overruns + snap.Run.SaturationDrops
			_ = bar.Set64(done)
		}
	}
}
