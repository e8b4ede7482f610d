// Package pipeline connects a byte source to the frame parser and the
// dispatcher.
//
// The source goroutine feeds raw chunks through a single Parser; completed
// frames go onto a bounded queue drained by one dispatch goroutine. When the
// source stops the parser is reset, so a trailing unterminated frame is
// discarded, and the queue is drained before Run returns. Buffers stay
// readable afterwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/frame"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

var (
	// ErrSourceClosed is returned by Run when the source ends or fails.
	ErrSourceClosed = errors.New("source closed")
	// ErrAlreadyRunning is returned by Run when another Run is active.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// DefaultQueueDepth is the capacity of the frame queue.
const DefaultQueueDepth = 1024

// rawSubscriberBuffer is the number of raw chunks a subscriber may lag.
const rawSubscriberBuffer = 64

// Source produces raw bytes. serialmux.SerialMuxInterface satisfies it.
type Source interface {
	Monitor(ctx context.Context, handle func([]byte)) error
}

// Config configures a Pipeline.
type Config struct {
	Markers     frame.Markers
	MaxFrameLen int
	QueueDepth  int
	RawMode     RawMode
	Metrics     *monitoring.Metrics
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Parser       frame.Stats `json:"parser"`
	Running      bool        `json:"running"`
	Paused       bool        `json:"paused"`
	RawMode      string      `json:"raw_mode"`
	Queued       int         `json:"queued"`
	PausedFrames uint64      `json:"paused_frames"`
	RawDrops     uint64      `json:"raw_drops"`
}

// Pipeline owns the parser and the frame queue for one source.
type Pipeline struct {
	cfg     Config
	src     Source
	disp    *dispatch.Dispatcher
	parser  *frame.Parser
	metrics *monitoring.Metrics

	// touched only by the source goroutine
	reported frame.Stats
	runCtx   context.Context

	queue   atomic.Pointer[chan frame.Frame]
	running atomic.Bool
	paused  atomic.Bool
	rawMode atomic.Int32

	pausedFrames atomic.Uint64
	rawDrops     atomic.Uint64

	rawMu   sync.Mutex
	rawSubs map[string]chan []byte
}

// New builds a pipeline that feeds src into disp.
func New(src Source, disp *dispatch.Dispatcher, cfg Config) (*Pipeline, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.Markers == (frame.Markers{}) {
		cfg.Markers = frame.DefaultMarkers()
	}
	p := &Pipeline{
		cfg:     cfg,
		src:     src,
		disp:    disp,
		metrics: cfg.Metrics,
		rawSubs: make(map[string]chan []byte),
	}
	parser, err := frame.NewParser(cfg.Markers, frame.WithMaxFrameLen(cfg.MaxFrameLen), frame.WithHandler(p.handleFrame))
	if err != nil {
		return nil, fmt.Errorf("failed to create frame parser: %w", err)
	}
	p.parser = parser
	p.rawMode.Store(int32(cfg.RawMode))
	return p, nil
}

// Run reads the source until ctx is done or the source ends. A cancelled ctx
// is a clean stop and returns nil; a source that ends or fails returns an
// error wrapping ErrSourceClosed.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	frames := make(chan frame.Frame, p.cfg.QueueDepth)
	p.runCtx = ctx
	p.queue.Store(&frames)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// the queue is closed below, so the dispatch task drains it fully
		p.disp.Run(context.WithoutCancel(ctx), frames)
	}()

	monitoring.Logf("pipeline started")
	err := p.src.Monitor(ctx, p.feed)

	p.parser.Reset()
	p.reportParserStats()
	p.queue.Store(nil)
	close(frames)
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		monitoring.Logf("pipeline stopped")
		return nil
	case err == nil:
		monitoring.Logf("source reached end of stream")
		return ErrSourceClosed
	default:
		monitoring.Logf("source failed: %v", err)
		return fmt.Errorf("%w: %w", ErrSourceClosed, err)
	}
}

// feed runs on the source goroutine for every chunk read.
func (p *Pipeline) feed(chunk []byte) {
	p.metrics.Add(monitoring.BytesRead, float64(len(chunk)))
	if p.RawMode() == RawAll {
		p.publishRaw(chunk)
	}
	p.parser.Write(chunk)
	p.reportParserStats()
}

// handleFrame is the parser callback. It blocks while the queue is full,
// which pushes back on the source rather than losing frames.
func (p *Pipeline) handleFrame(f frame.Frame) {
	if p.RawMode() == RawFiltered {
		p.publishRaw([]byte(f.Text + "\n"))
	}
	if p.paused.Load() {
		p.pausedFrames.Add(1)
		return
	}
	q := p.queue.Load()
	if q == nil {
		return
	}
	select {
	case *q <- f:
	case <-p.runCtx.Done():
	}
}

// reportParserStats pushes parser counter deltas to the metrics registry.
func (p *Pipeline) reportParserStats() {
	if p.metrics == nil {
		return
	}
	s := p.parser.Stats()
	p.metrics.Add(monitoring.FramesParsed, float64(s.Frames-p.reported.Frames))
	p.metrics.Add(monitoring.BytesDropped, float64(s.Dropped-p.reported.Dropped))
	p.metrics.Add(monitoring.FramesAbandoned, float64(s.Abandoned-p.reported.Abandoned))
	p.metrics.Add(monitoring.FramesOverflowed, float64(s.Overflowed-p.reported.Overflowed))
	p.reported = s
}

// Pause stops frames from reaching the dispatcher. Parsing continues so the
// stream stays synchronised; frames completed while paused are discarded.
func (p *Pipeline) Pause() {
	if !p.paused.Swap(true) {
		monitoring.Logf("plotting paused")
	}
}

// Resume undoes Pause.
func (p *Pipeline) Resume() {
	if p.paused.Swap(false) {
		monitoring.Logf("plotting resumed")
	}
}

// Paused reports whether the pipeline is paused.
func (p *Pipeline) Paused() bool {
	return p.paused.Load()
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// SetRawMode switches what raw subscribers receive.
func (p *Pipeline) SetRawMode(m RawMode) {
	p.rawMode.Store(int32(m))
}

// RawMode returns the current raw tee mode.
func (p *Pipeline) RawMode() RawMode {
	return RawMode(p.rawMode.Load())
}

// Markers returns the frame delimiters in use.
func (p *Pipeline) Markers() frame.Markers {
	return p.parser.Markers()
}

// Stats returns a snapshot of the pipeline and parser counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Parser:       p.parser.Stats(),
		Running:      p.running.Load(),
		Paused:       p.paused.Load(),
		RawMode:      p.RawMode().String(),
		PausedFrames: p.pausedFrames.Load(),
		RawDrops:     p.rawDrops.Load(),
	}
	if q := p.queue.Load(); q != nil {
		s.Queued = len(*q)
	}
	return s
}

// SubscribeRaw returns a channel receiving the raw tee in the current mode.
// Slow subscribers lose chunks rather than stall the source.
func (p *Pipeline) SubscribeRaw() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, rawSubscriberBuffer)
	p.rawMu.Lock()
	defer p.rawMu.Unlock()
	p.rawSubs[id] = ch
	return id, ch
}

// UnsubscribeRaw closes and removes a raw subscriber.
func (p *Pipeline) UnsubscribeRaw(id string) {
	p.rawMu.Lock()
	defer p.rawMu.Unlock()
	if ch, ok := p.rawSubs[id]; ok {
		close(ch)
		delete(p.rawSubs, id)
	}
}

func (p *Pipeline) publishRaw(b []byte) {
	p.rawMu.Lock()
	defer p.rawMu.Unlock()
	for _, ch := range p.rawSubs {
		select {
		case ch <- b:
		default:
			p.rawDrops.Add(1)
			p.metrics.SinkDrop("raw")
		}
	}
}
