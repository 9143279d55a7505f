// Package dashboard renders a particle filter run as a self-contained
// HTML page: the current particle cloud (scatter, colored by floor),
// an effective-sample-size history line, and a per-floor weighted
// population bar chart. Grounded on
// internal/lidar/monitor/echarts_handlers.go's chart-building shape
// (charts.NewScatter/NewBar + components.Page, rendered to a
// bytes.Buffer), generalized from an HTTP handler to a plain
// io.Writer-based renderer since bleloc has no web server of its own.
package dashboard

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/bleloc/internal/geo"
	"github.com/banshee-data/bleloc/internal/pf"
)

// ESSSample is one effective-sample-size reading at a point in the
// replayed trace, keyed by the scan index rather than a wall-clock
// timestamp so the chart reads the same regardless of trace speed.
type ESSSample struct {
	Index int
	Value float64
}

// Snapshot is everything one dashboard render needs: the current
// particle cloud, the filter's status, and a short ESS history.
type Snapshot struct {
	Particles  []geo.Particle
	Status     pf.Status
	ESSHistory []ESSSample
}

// Render writes a complete HTML dashboard for snap to w.
func Render(w io.Writer, snap Snapshot) error {
	page := components.NewPage()
	page.PageTitle = "bleloc particle filter"
	page.AddCharts(
		particleScatter(snap.Particles),
		essLine(snap.ESSHistory),
		floorHistogram(snap.Particles),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("dashboard: render page: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("dashboard: write page: %w", err)
	}
	return nil
}

// particleScatter plots every particle at (x, y), colored by its
// floor index via the visual map's third data dimension.
func particleScatter(particles []geo.Particle) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(particles))
	maxAbs := 0.0
	minFloor, maxFloor := 0.0, 0.0
	for i, p := range particles {
		x, y := p.State.Location.X, p.State.Location.Y
		if abs(x) > maxAbs {
			maxAbs = abs(x)
		}
		if abs(y) > maxAbs {
			maxAbs = abs(y)
		}
		floor := p.State.Location.Floor
		if i == 0 || floor < minFloor {
			minFloor = floor
		}
		if i == 0 || floor > maxFloor {
			maxFloor = floor
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, floor}})
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxFloor == minFloor {
		maxFloor = minFloor + 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Particle Cloud", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Particle Cloud", Subtitle: fmt.Sprintf("n=%d", len(particles))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minFloor),
			Max:        float32(maxFloor),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("particles", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter
}

// essLine plots effective-sample-size history as a single line series;
// no reference line is drawn.
func essLine(history []ESSSample) *charts.Line {
	x := make([]string, 0, len(history))
	y := make([]opts.LineData, 0, len(history))
	for _, s := range history {
		x = append(x, fmt.Sprintf("%d", s.Index))
		y = append(y, opts.LineData{Value: s.Value})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Effective Sample Size", Theme: "dark", Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Effective Sample Size"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("ESS", y, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))
	return line
}

// floorHistogram bars the weighted population fraction per floor.
func floorHistogram(particles []geo.Particle) *charts.Bar {
	weightByFloor := make(map[int]float64)
	var total float64
	for _, p := range particles {
		weightByFloor[p.State.FloorIndex()] += p.Weight
		total += p.Weight
	}
	floors := make([]int, 0, len(weightByFloor))
	for f := range weightByFloor {
		floors = append(floors, f)
	}
	sort.Ints(floors)

	x := make([]string, 0, len(floors))
	y := make([]opts.BarData, 0, len(floors))
	for _, f := range floors {
		frac := 0.0
		if total > 0 {
			frac = weightByFloor[f] / total
		}
		x = append(x, fmt.Sprintf("floor %d", f))
		y = append(y, opts.BarData{Value: frac})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Floor Distribution", Theme: "dark", Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Weighted Floor Distribution"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("weight fraction", y, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
