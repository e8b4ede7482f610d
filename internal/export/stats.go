// Package export turns dispatcher snapshots into files and summaries: CSV
// stream recordings, PNG plots and per-channel statistics.
package export

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
)

// AutoScalePadding is the fraction of each bound's magnitude added by
// AutoRange.
const AutoScalePadding = 0.1

// ChannelStats summarises the finite samples of one channel.
type ChannelStats struct {
	Channel channel.ID `json:"channel"`
	Name    string     `json:"name"`
	Count   int        `json:"count"`
	Gaps    int        `json:"gaps"`
	NaNs    int        `json:"nans"`
	Min     float64    `json:"min"`
	Max     float64    `json:"max"`
	Mean    float64    `json:"mean"`
	StdDev  float64    `json:"stddev"`
	Last    float64    `json:"last"`
}

// finite returns the non-NaN values of samples and the NaN count.
func finite(samples []channel.Sample) ([]float64, int) {
	vals := make([]float64, 0, len(samples))
	nans := 0
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			nans++
			continue
		}
		vals = append(vals, s.Value)
	}
	return vals, nans
}

// Summarise computes statistics for one series over [from, to]. Indices in
// the range with no sample count as gaps. Min, Max, Mean, StdDev and Last
// are NaN when the series has no finite value.
func Summarise(s dispatch.Series, from, to uint64) ChannelStats {
	out := ChannelStats{
		Channel: s.Channel.ID,
		Name:    s.Channel.Name,
		Min:     math.NaN(),
		Max:     math.NaN(),
		Mean:    math.NaN(),
		StdDev:  math.NaN(),
		Last:    math.NaN(),
	}
	if to >= from {
		out.Gaps = int(to-from+1) - len(s.Samples)
	}
	vals, nans := finite(s.Samples)
	out.NaNs = nans
	out.Count = len(vals)
	if len(vals) == 0 {
		return out
	}
	out.Min = floats.Min(vals)
	out.Max = floats.Max(vals)
	out.Last = vals[len(vals)-1]
	if len(vals) > 1 {
		out.Mean, out.StdDev = stat.MeanStdDev(vals, nil)
	} else {
		out.Mean, out.StdDev = vals[0], 0
	}
	return out
}

// SummariseSnapshot returns statistics for every channel of snap.
func SummariseSnapshot(snap dispatch.Snapshot) []ChannelStats {
	out := make([]ChannelStats, 0, len(snap.Series))
	for _, s := range snap.Series {
		from, to := snap.From, snap.To
		if snap.Index == 0 {
			from, to = 1, 0
		}
		out = append(out, Summarise(s, from, to))
	}
	return out
}

// Range is a y-axis range.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AutoRange fits a range around the finite samples of the visible channels,
// widening each bound by AutoScalePadding of its magnitude. It reports false
// when there is nothing to fit.
func AutoRange(snap dispatch.Snapshot) (Range, bool) {
	var all []float64
	for _, s := range snap.Series {
		if !s.Channel.Visible {
			continue
		}
		vals, _ := finite(s.Samples)
		all = append(all, vals...)
	}
	if len(all) == 0 {
		return Range{}, false
	}
	lo, hi := floats.Min(all), floats.Max(all)
	r := Range{
		Min: lo - math.Abs(lo)*AutoScalePadding,
		Max: hi + math.Abs(hi)*AutoScalePadding,
	}
	if r.Min == r.Max {
		r.Min--
		r.Max++
	}
	return r, true
}
