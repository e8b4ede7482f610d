package api

import (
	"math"
	"strconv"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/export"
)

// Float encodes NaN and infinities as null, which encoding/json rejects.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

type channelJSON struct {
	ID      channel.ID `json:"id"`
	Name    string     `json:"name"`
	Color   string     `json:"color"`
	Visible bool       `json:"visible"`
}

func toChannelJSON(c channel.Channel) channelJSON {
	return channelJSON{ID: c.ID, Name: c.Name, Color: channel.Hex(c.Color), Visible: c.Visible}
}

type sampleJSON struct {
	Index uint64 `json:"index"`
	Value Float  `json:"value"`
}

func toSamplesJSON(samples []channel.Sample) []sampleJSON {
	out := make([]sampleJSON, len(samples))
	for i, s := range samples {
		out[i] = sampleJSON{Index: s.Index, Value: Float(s.Value)}
	}
	return out
}

type seriesJSON struct {
	Channel channelJSON  `json:"channel"`
	Samples []sampleJSON `json:"samples"`
}

type snapshotJSON struct {
	From   uint64       `json:"from"`
	To     uint64       `json:"to"`
	Index  uint64       `json:"index"`
	Series []seriesJSON `json:"series"`
}

func toSnapshotJSON(s dispatch.Snapshot) snapshotJSON {
	out := snapshotJSON{From: s.From, To: s.To, Index: s.Index, Series: make([]seriesJSON, 0, len(s.Series))}
	for _, sr := range s.Series {
		out.Series = append(out.Series, seriesJSON{Channel: toChannelJSON(sr.Channel), Samples: toSamplesJSON(sr.Samples)})
	}
	return out
}

// batchJSON is the wire form of a batch on the live stream. Values are keyed
// by channel id.
type batchJSON struct {
	Index   uint64                `json:"index"`
	Values  map[channel.ID]Float `json:"values"`
	Evicted int                   `json:"evicted,omitempty"`
}

func toBatchJSON(b dispatch.Batch) batchJSON {
	out := batchJSON{Index: b.Index, Values: make(map[channel.ID]Float, len(b.Values)), Evicted: b.Evicted}
	for id, v := range b.Values {
		out.Values[id] = Float(v)
	}
	return out
}

type statsJSON struct {
	Channel channel.ID `json:"channel"`
	Name    string     `json:"name"`
	Count   int        `json:"count"`
	Gaps    int        `json:"gaps"`
	NaNs    int        `json:"nans"`
	Min     Float      `json:"min"`
	Max     Float      `json:"max"`
	Mean    Float      `json:"mean"`
	StdDev  Float      `json:"stddev"`
	Last    Float      `json:"last"`
}

func toStatsJSON(s export.ChannelStats) statsJSON {
	return statsJSON{
		Channel: s.Channel, Name: s.Name, Count: s.Count, Gaps: s.Gaps, NaNs: s.NaNs,
		Min: Float(s.Min), Max: Float(s.Max), Mean: Float(s.Mean), StdDev: Float(s.StdDev), Last: Float(s.Last),
	}
}
