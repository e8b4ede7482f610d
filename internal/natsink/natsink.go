// Package natsink publishes dispatched batches to a NATS subject.
package natsink

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BatchSource is the part of the dispatcher the sink needs.
type BatchSource interface {
	Subscribe() (string, <-chan dispatch.Batch)
	Unsubscribe(id string)
}

// Message is the JSON body published per batch. Values the device sent as
// non-numeric tokens under the NaN policy are null.
type Message struct {
	Index   uint64                  `json:"index"`
	Values  map[channel.ID]*float64 `json:"values"`
	Evicted int                     `json:"evicted,omitempty"`
}

func encode(b dispatch.Batch) ([]byte, error) {
	m := Message{Index: b.Index, Evicted: b.Evicted, Values: make(map[channel.ID]*float64, len(b.Values))}
	for id, v := range b.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m.Values[id] = nil
			continue
		}
		m.Values[id] = &v
	}
	return json.Marshal(m)
}

// Sink forwards batches from a source to a subject.
type Sink struct {
	pub     Publisher
	src     BatchSource
	subject string
	metrics *monitoring.Metrics

	lastErr time.Time
}

func NewSink(pub Publisher, src BatchSource, subject string, metrics *monitoring.Metrics) *Sink {
	return &Sink{pub: pub, src: src, subject: subject, metrics: metrics}
}

// Run publishes until ctx is done or the source closes. Publish failures are
// counted as sink drops; a disconnected server does not stop the sink.
func (s *Sink) Run(ctx context.Context) error {
	id, batches := s.src.Subscribe()
	defer s.src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			data, err := encode(b)
			if err != nil {
				return fmt.Errorf("failed to encode batch %d: %w", b.Index, err)
			}
			if err := s.pub.Publish(s.subject, data); err != nil {
				s.metrics.SinkDrop("nats")
				if time.Since(s.lastErr) > 10*time.Second {
					s.lastErr = time.Now()
					monitoring.Logf("nats publish to %s failed: %v", s.subject, err)
				}
			}
		}
	}
}

// Connect dials url with reconnects enabled indefinitely.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("serialscope"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				monitoring.Logf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			monitoring.Logf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

var _ Publisher = (*nats.Conn)(nil)
