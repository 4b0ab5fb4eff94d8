// Package dashboard renders a live terminal view of an in-flight run:
// dispatch throughput, token latency percentiles, and error counters, fed by
// the live snapshot publisher.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/inferload/inferload/internal/aggregate"
	"github.com/inferload/inferload/internal/live"
)

const historyLen = 100

// Dashboard is a termui view over the run's live snapshots.
type Dashboard struct {
	pub      *live.Publisher
	cancel   context.CancelFunc
	ctx      context.Context
	shutdown func()
	wg       sync.WaitGroup
	once     sync.Once

	grid       *ui.Grid
	rpsSparkle *widgets.SparklineGroup
	ttftPara   *widgets.Paragraph
	tpotPara   *widgets.Paragraph
	countsPara *widgets.Paragraph
	errorsPara *widgets.Paragraph
	rpsHistory []float64
	startTime  time.Time
}

// New initializes the terminal UI. shutdown is invoked when the user quits
// with q or Ctrl-C so the run can stop cleanly.
func New(pub *live.Publisher, shutdown func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		pub:        pub,
		ctx:        ctx,
		cancel:     cancel,
		shutdown:   shutdown,
		rpsHistory: make([]float64, 0, historyLen),
		startTime:  time.Now(),
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	spark := widgets.NewSparkline()
	spark.Title = "req/s"
	spark.LineColor = ui.ColorGreen
	spark.Data = []float64{0}
	d.rpsSparkle = widgets.NewSparklineGroup(spark)
	d.rpsSparkle.Title = "Throughput"
	d.rpsSparkle.BorderStyle.Fg = ui.ColorCyan

	d.ttftPara = widgets.NewParagraph()
	d.ttftPara.Title = "TTFT"
	d.ttftPara.Text = "Awaiting data"
	d.ttftPara.BorderStyle.Fg = ui.ColorCyan

	d.tpotPara = widgets.NewParagraph()
	d.tpotPara.Title = "TPOT / ITL"
	d.tpotPara.Text = "Awaiting data"
	d.tpotPara.BorderStyle.Fg = ui.ColorCyan

	d.countsPara = widgets.NewParagraph()
	d.countsPara.Title = "Requests"
	d.countsPara.Text = "Awaiting data"
	d.countsPara.BorderStyle.Fg = ui.ColorCyan

	d.errorsPara = widgets.NewParagraph()
	d.errorsPara.Title = "Errors"
	d.errorsPara.Text = "None"
	d.errorsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	d.grid = ui.NewGrid()
	w, h := ui.TerminalDimensions()
	d.grid.SetRect(0, 0, w, h)
	d.grid.Set(
		ui.NewRow(0.4, ui.NewCol(1.0, d.rpsSparkle)),
		ui.NewRow(0.3,
			ui.NewCol(0.5, d.ttftPara),
			ui.NewCol(0.5, d.tpotPara),
		),
		ui.NewRow(0.3,
			ui.NewCol(0.5, d.countsPara),
			ui.NewCol(0.5, d.errorsPara),
		),
	)
}

// Start begins rendering until Stop or user quit.
func (d *Dashboard) Start() {
	snapshots := d.pub.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		uiEvents := ui.PollEvents()
		ui.Render(d.grid)
		for {
			select {
			case <-d.ctx.Done():
				return
			case e := <-uiEvents:
				switch e.ID {
				case "q", "<C-c>":
					if d.shutdown != nil {
						d.shutdown()
					}
					return
				case "<Resize>":
					payload := e.Payload.(ui.Resize)
					d.grid.SetRect(0, 0, payload.Width, payload.Height)
					ui.Clear()
					ui.Render(d.grid)
				}
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				d.update(snap)
				ui.Render(d.grid)
			}
		}
	}()
}

// Stop tears the terminal UI down. Safe to call more than once.
func (d *Dashboard) Stop() {
	d.once.Do(func() {
		d.cancel()
		d.wg.Wait()
		ui.Close()
	})
}

func (d *Dashboard) update(snap live.Snapshot) {
	run := snap.Run

	d.rpsHistory = append(d.rpsHistory, run.RequestsPerSec)
	if len(d.rpsHistory) > historyLen {
		d.rpsHistory = d.rpsHistory[1:]
	}
	d.rpsSparkle.Sparklines[0].Data = d.rpsHistory
	d.rpsSparkle.Title = fmt.Sprintf("Throughput: %.1f req/s, %.0f tok/s", run.RequestsPerSec, run.OutputTokPerSec)

	d.ttftPara.Text = distText(run.TTFT)
	d.tpotPara.Text = fmt.Sprintf("TPOT\n%s\nITL\n%s", distText(run.TPOT), distText(run.ITL))
	d.countsPara.Text = fmt.Sprintf(
		"Elapsed: %s\nScheduled: %d\nCompleted: %d\nIn tokens: %d\nOut tokens: %d",
		time.Since(d.startTime).Round(time.Second),
		run.Scheduled, run.Completed, run.InputTokens, run.OutputTokens,
	)
	d.errorsPara.Text = fmt.Sprintf(
		"Failed: %d\nTimeouts: %d\nCancelled: %d\nOverruns: %d\nSaturation drops: %d",
		run.Failed, run.Timeouts, run.Cancelled, run.Overruns, run.SaturationDrops,
	)
}

func distText(d aggregate.DistSummary) string {
	if d.Count == 0 {
		return "No samples yet"
	}
	return fmt.Sprintf("mean %.1fms\np50 %.1fms  p90 %.1fms\np95 %.1fms  p99 %.1fms",
		d.MeanMs, d.P50Ms, d.P90Ms, d.P95Ms, d.P99Ms)
}
