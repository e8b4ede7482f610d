// Package dispatch turns completed frames into per-channel samples.
//
// A Dispatcher owns the channel registry, one buffer per channel and the
// shared sample index. Every dispatch cycle runs under a single mutex: the
// channels present in the frame are resolved, their values appended, the
// index advanced once, and exactly one Batch published to subscribers.
// Consumers read through copying accessors that take the read lock.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/frame"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

// DefaultSinkBuffer is the per-subscriber queue depth.
const DefaultSinkBuffer = 256

// evictionLogInterval rate-limits the capacity warning.
const evictionLogInterval = 10 * time.Second

// Config configures a Dispatcher.
type Config struct {
	Policy ParsePolicy
	// BufferCapacity bounds each channel buffer; 0 keeps every sample.
	BufferCapacity int
	// SinkBuffer is the queue depth of each subscriber channel.
	SinkBuffer int
	Palette    channel.Palette
	Names      map[channel.ID]string
	Metrics    *monitoring.Metrics
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Index       uint64 `json:"index"`
	Batches     uint64 `json:"batches"`
	Rejected    uint64 `json:"rejected"`
	Evicted     uint64 `json:"evicted"`
	Channels    int    `json:"channels"`
	Subscribers int    `json:"subscribers"`
	SinkDrops   uint64 `json:"sink_drops"`
}

// Dispatcher serialises dispatch cycles and fans batches out to sinks.
type Dispatcher struct {
	cfg     Config
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	registry *channel.Registry
	buffers  []*channel.Buffer
	index    uint64
	batches  uint64
	rejected uint64
	evicted  uint64
	lastWarn time.Time

	subscriberMu sync.Mutex
	subscribers  map[string]chan Batch
	closed       bool
	drops        atomic.Uint64

	resetMu sync.Mutex
	onReset []func()
}

// New returns an empty dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = DefaultSinkBuffer
	}
	d := &Dispatcher{
		cfg:         cfg,
		metrics:     cfg.Metrics,
		registry:    channel.NewRegistry(cfg.Palette, channel.WithNames(cfg.Names)),
		subscribers: make(map[string]chan Batch),
	}
	d.registry.OnAdded(func(c channel.Channel) {
		d.buffers = append(d.buffers, channel.NewBuffer(cfg.BufferCapacity))
		d.metrics.SetChannels(len(d.buffers))
	})
	return d
}

// OnChannelAdded registers an observer for new channels. It runs inside the
// dispatch cycle and must not call back into the Dispatcher.
func (d *Dispatcher) OnChannelAdded(fn func(channel.Channel)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry.OnAdded(fn)
}

// OnReset registers a callback run after every Reset.
func (d *Dispatcher) OnReset(fn func()) {
	d.resetMu.Lock()
	defer d.resetMu.Unlock()
	d.onReset = append(d.onReset, fn)
}

// Dispatch runs one dispatch cycle for the tokens of a single frame and
// returns the published batch.
func (d *Dispatcher) Dispatch(tokens []string) Batch {
	start := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	b := Batch{Index: d.index, Values: make(map[channel.ID]float64, len(tokens))}
	rejected := 0
	for pos, tok := range tokens {
		id := d.registry.Resolve(pos)
		v, err := strconv.ParseFloat(tok, 64)
		// out of range numbers keep their ±Inf; only malformed ones fail
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			rejected++
			if d.cfg.Policy == SkipField {
				continue
			}
			v = math.NaN()
		}
		b.Evicted += d.buffers[id].Append(d.index, v)
		b.Values[id] = v
	}
	d.index++
	d.batches++
	d.rejected += uint64(rejected)
	d.evicted += uint64(b.Evicted)

	d.metrics.Add(monitoring.Batches, 1)
	d.metrics.Add(monitoring.TokensRejected, float64(rejected))
	if b.Evicted > 0 {
		d.metrics.Add(monitoring.SamplesEvicted, float64(b.Evicted))
		if time.Since(d.lastWarn) > evictionLogInterval {
			d.lastWarn = time.Now()
			monitoring.Logf("buffer capacity %d reached, evicting oldest samples", d.cfg.BufferCapacity)
		}
	}

	// published under the dispatch lock so subscribers observe index order
	d.publish(b)
	d.metrics.ObserveDispatch(time.Since(start).Seconds())
	return b
}

// Run is the dispatch task: it drains frames in arrival order until the
// queue is closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, frames <-chan frame.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			d.Dispatch(f.Tokens())
		}
	}
}

// Reset clears every channel, buffer and the sample index.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.registry.Reset()
	for _, b := range d.buffers {
		b.Clear()
	}
	d.buffers = nil
	d.index = 0
	d.metrics.SetChannels(0)
	d.mu.Unlock()

	d.resetMu.Lock()
	hooks := append([]func(){}, d.onReset...)
	d.resetMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// RenameChannel changes a channel's display name.
func (d *Dispatcher) RenameChannel(id channel.ID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.Rename(id, name)
}

// PresetName names id now or when it first appears.
func (d *Dispatcher) PresetName(id channel.ID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry.Preset(id, name)
}

// SetChannelVisible toggles a channel's display flag. Buffers are unaffected.
func (d *Dispatcher) SetChannelVisible(id channel.ID, visible bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.SetVisible(id, visible)
}

// ShowAll marks every channel visible.
func (d *Dispatcher) ShowAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry.ShowAll()
}

// Channels returns a copy of the channel table.
func (d *Dispatcher) Channels() []channel.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registry.Channels()
}

// Index returns the index the next dispatch cycle will use.
func (d *Dispatcher) Index() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index
}

// Samples copies the samples of id whose index lies in [from, to].
func (d *Dispatcher) Samples(id channel.ID, from, to uint64) ([]channel.Sample, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id < 0 || int(id) >= len(d.buffers) {
		return nil, fmt.Errorf("%w: %d", channel.ErrUnknownChannel, id)
	}
	return d.buffers[id].Slice(from, to), nil
}

// Series is one channel's samples in a Snapshot.
type Series struct {
	Channel channel.Channel  `json:"channel"`
	Samples []channel.Sample `json:"samples"`
}

// Snapshot is a consistent copy of every channel over an index range.
type Snapshot struct {
	From   uint64   `json:"from"`
	To     uint64   `json:"to"`
	Index  uint64   `json:"index"`
	Series []Series `json:"series"`
}

// Window copies the last n sample indices of every channel. n <= 0 copies
// everything retained.
func (d *Dispatcher) Window(n int) Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var from uint64
	if n > 0 && d.index > uint64(n) {
		from = d.index - uint64(n)
	}
	to := uint64(0)
	if d.index > 0 {
		to = d.index - 1
	}
	snap := Snapshot{From: from, To: to, Index: d.index}
	for i, ch := range d.registry.Channels() {
		var samples []channel.Sample
		if d.index > 0 {
			samples = d.buffers[i].Slice(from, to)
		}
		snap.Series = append(snap.Series, Series{Channel: ch, Samples: samples})
	}
	return snap
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	s := Stats{
		Index:    d.index,
		Batches:  d.batches,
		Rejected: d.rejected,
		Evicted:  d.evicted,
		Channels: d.registry.Len(),
	}
	d.mu.RUnlock()

	d.subscriberMu.Lock()
	s.Subscribers = len(d.subscribers)
	d.subscriberMu.Unlock()
	s.SinkDrops = d.drops.Load()
	return s
}

// Subscribe returns a buffered channel receiving every batch published after
// the call. A subscriber that falls behind loses batches rather than stalling
// dispatch.
func (d *Dispatcher) Subscribe() (string, <-chan Batch) {
	id := uuid.NewString()
	ch := make(chan Batch, d.cfg.SinkBuffer)

	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if d.closed {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (d *Dispatcher) Unsubscribe(id string) {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// Close closes every subscriber channel. Buffers stay readable.
func (d *Dispatcher) Close() {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	d.closed = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *Dispatcher) publish(b Batch) {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	for _, ch := range d.subscribers {
		select {
		case ch <- b:
		default:
			// subscriber is full; skip so as not to block dispatch
			d.drops.Add(1)
			d.metrics.SinkDrop("batch")
		}
	}
}
