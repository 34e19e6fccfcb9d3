// Package report renders scheduler-state charts for a sweep store: how many
// runs sit in each lifecycle state, and the wall-clock time of every run the
// store has finished. It reads the store's bookkeeping only and never looks
// inside run output directories.
package report

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/paramsweep/internal/sweepdb"
)

// Options selects the report outputs. HTMLPath is required. PNGPath is
// optional; when empty no PNG is produced.
type Options struct {
	HTMLPath string
	PNGPath  string
}

// Write renders the status report for store. The HTML page carries a
// state-count summary and a per-run elapsed bar chart covering every run id
// in the store; the PNG is an elapsed-seconds scatter over run ids.
func Write(ctx context.Context, store *sweepdb.Store, o Options) error {
	if o.HTMLPath == "" {
		return fmt.Errorf("report: no HTML output path")
	}

	meta, err := store.Meta(ctx)
	if err != nil {
		return err
	}
	counts, err := store.StatusCounts(ctx)
	if err != nil {
		return err
	}
	statuses, err := store.RunStatuses(ctx)
	if err != nil {
		return err
	}

	html, err := renderHTML(meta, counts, statuses)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(o.HTMLPath), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(o.HTMLPath, html, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if o.PNGPath != "" {
		if err := renderPNG(statuses, o.PNGPath); err != nil {
			return err
		}
	}
	return nil
}

// renderHTML builds the two-chart page: run counts per lifecycle state, then
// elapsed seconds per run id. Runs without an elapsed value (pending,
// in progress, failed) chart as zero.
func renderHTML(meta *sweepdb.Meta, counts sweepdb.StatusCounts, statuses []sweepdb.RunStatus) ([]byte, error) {
	summary := charts.NewBar()
	summary.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sweep Status", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Run States", Subtitle: fmt.Sprintf("model=%s total=%d", meta.Model, counts.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	summary.SetXAxis([]string{"Pending", "In progress", "Done", "Failed"}).
		AddSeries("runs", []opts.BarData{
			{Value: counts.Pending},
			{Value: counts.InProgress},
			{Value: counts.Done},
			{Value: counts.Failed},
		},
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	ids := make([]string, 0, len(statuses))
	elapsed := make([]opts.BarData, 0, len(statuses))
	for _, st := range statuses {
		ids = append(ids, strconv.FormatInt(st.RunID, 10))
		var secs float64
		if st.Elapsed != nil {
			secs = *st.Elapsed
		}
		elapsed = append(elapsed, opts.BarData{Value: secs})
	}

	perRun := charts.NewBar()
	perRun.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Elapsed by Run", Subtitle: fmt.Sprintf("%d runs", len(statuses))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "run_id"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	perRun.SetXAxis(ids).AddSeries("elapsed", elapsed)

	page := components.NewPage()
	page.AddCharts(summary, perRun)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering report page: %w", err)
	}
	return buf.Bytes(), nil
}

// renderPNG plots elapsed seconds against run id for every run with a
// recorded elapsed time. An all-pending or all-failed store still produces a
// valid, empty plot.
func renderPNG(statuses []sweepdb.RunStatus, path string) error {
	p := plot.New()
	p.Title.Text = "Elapsed by Run"
	p.X.Label.Text = "Run ID"
	p.Y.Label.Text = "Elapsed (s)"

	pts := make(plotter.XYs, 0, len(statuses))
	for _, st := range statuses {
		if st.Elapsed == nil {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(st.RunID), Y: *st.Elapsed})
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("building elapsed scatter: %w", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(scatter)
	p.Legend.Add("elapsed", scatter)
	p.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating plot directory: %w", err)
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving elapsed plot: %w", err)
	}
	return nil
}
