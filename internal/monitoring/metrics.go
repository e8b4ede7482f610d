package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serialscope"

// Counter names one of the pipeline counters.
type Counter int

const (
	BytesRead Counter = iota
	FramesParsed
	BytesDropped
	FramesAbandoned
	FramesOverflowed
	TokensRejected
	Batches
	SamplesEvicted
	numCounters
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing, so packages can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	counters         [numCounters]prometheus.Counter
	sinkDrops        *prometheus.CounterVec
	channels         prometheus.Gauge
	dispatchDuration prometheus.Histogram
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

// NewMetrics creates the collectors and registers them on a private registry
// together with the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		counters: [numCounters]prometheus.Counter{
			BytesRead:        newCounter("source", "bytes_read_total", "Raw bytes read from the serial source"),
			FramesParsed:     newCounter("parser", "frames_total", "Frames completed by the parser"),
			BytesDropped:     newCounter("parser", "bytes_dropped_total", "Non-payload bytes dropped inside frames"),
			FramesAbandoned:  newCounter("parser", "frames_abandoned_total", "Partial frames discarded by a restart or a stop"),
			FramesOverflowed: newCounter("parser", "frames_overflowed_total", "Partial frames discarded for exceeding the length limit"),
			TokensRejected:   newCounter("dispatch", "tokens_rejected_total", "Tokens that failed numeric conversion"),
			Batches:          newCounter("dispatch", "batches_total", "Completed dispatch cycles"),
			SamplesEvicted:   newCounter("dispatch", "samples_evicted_total", "Samples evicted to honour the buffer capacity"),
		},
		sinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "drops_total",
			Help: "Notifications dropped because a subscriber was full",
		}, []string{"kind"}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "channels",
			Help: "Registered channels",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "duration_seconds",
			Help:    "Time spent in one dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	for _, c := range m.counters {
		m.registry.MustRegister(c)
	}
	m.registry.MustRegister(
		m.sinkDrops, m.channels, m.dispatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Counter returns the collector behind c, or nil for a nil *Metrics.
func (m *Metrics) Counter(c Counter) prometheus.Counter {
	if m == nil || c < 0 || c >= numCounters {
		return nil
	}
	return m.counters[c]
}

// Add increments c by v. Negative and zero deltas are ignored.
func (m *Metrics) Add(c Counter, v float64) {
	if m == nil || c < 0 || c >= numCounters || v <= 0 {
		return
	}
	m.counters[c].Add(v)
}

// SinkDrops returns the drop counter for the given sink kind.
func (m *Metrics) SinkDrops(kind string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.sinkDrops.WithLabelValues(kind)
}

// SinkDrop counts one dropped notification for the given sink kind.
func (m *Metrics) SinkDrop(kind string) {
	if m == nil {
		return
	}
	m.sinkDrops.WithLabelValues(kind).Inc()
}

// SetChannels records the current channel count.
func (m *Metrics) SetChannels(n int) {
	if m == nil {
		return
	}
	m.channels.Set(float64(n))
}

// ObserveDispatch records one dispatch duration in seconds.
func (m *Metrics) ObserveDispatch(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(seconds)
}
