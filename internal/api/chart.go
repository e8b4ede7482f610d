package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/export"
	"github.com/banshee-data/serialscope/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// gap is how echarts marks a missing point on a line series.
const gap = "-"

// lineData lays samples out on the snapshot's index axis, leaving gaps for
// indices the channel did not receive and for NaN values.
func lineData(snap dispatch.Snapshot, samples []channel.Sample) []opts.LineData {
	if snap.Index == 0 || snap.To < snap.From {
		return nil
	}
	data := make([]opts.LineData, snap.To-snap.From+1)
	for i := range data {
		data[i] = opts.LineData{Value: gap}
	}
	for _, s := range samples {
		if s.Index < snap.From || s.Index > snap.To || math.IsNaN(s.Value) {
			continue
		}
		data[s.Index-snap.From] = opts.LineData{Value: s.Value}
	}
	return data
}

func newLineChart(snap dispatch.Snapshot) *charts.Line {
	line := charts.NewLine()
	global := []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "serialscope", Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Channels", Subtitle: fmt.Sprintf("samples %d to %d", snap.From, snap.To)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sample", NameLocation: "middle", NameGap: 25}),
	}
	if rng, ok := export.AutoRange(snap); ok {
		global = append(global, charts.WithYAxisOpts(opts.YAxis{Min: rng.Min, Max: rng.Max}))
	}
	line.SetGlobalOptions(global...)

	var xs []uint64
	if snap.Index > 0 && snap.To >= snap.From {
		xs = make([]uint64, 0, snap.To-snap.From+1)
		for i := snap.From; i <= snap.To; i++ {
			xs = append(xs, i)
		}
	}
	line.SetXAxis(xs)
	for _, s := range snap.Series {
		if !s.Channel.Visible {
			continue
		}
		hex := channel.Hex(s.Channel.Color)
		line.AddSeries(s.Channel.Name, lineData(snap, s.Samples),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), ConnectNulls: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: hex, Width: 1.5}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex}),
		)
	}
	return line
}

// chart renders the visible channels over the last window as an HTML page.
// ?refresh=N asks the browser to reload every N seconds.
func (s *Server) chart(w http.ResponseWriter, r *http.Request) {
	n, err := s.windowSize(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if v := r.URL.Query().Get("refresh"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid refresh %q", v))
			return
		}
		w.Header().Set("Refresh", strconv.Itoa(secs))
	}

	var buf bytes.Buffer
	if err := newLineChart(s.disp.Window(n)).Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
