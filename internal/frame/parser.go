// Package frame extracts delimited numeric frames from a raw byte stream.
//
// A frame is the text between a start marker and an end marker. Only payload
// bytes (digits, whitespace, '-' and '.') are kept; everything else inside a
// frame is dropped and everything outside a frame is ignored. The parser never
// blocks and never returns an error for malformed input: it counts what it
// discards and moves on.
package frame

import (
	"fmt"
	"sync/atomic"
)

// State is the parser's position relative to frame boundaries.
type State int

const (
	WaitingForStart State = iota
	InFrame
)

func (s State) String() string {
	switch s {
	case WaitingForStart:
		return "waiting_for_start"
	case InFrame:
		return "in_frame"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is one completed payload. Text never contains either marker.
type Frame struct {
	Text string
}

// Stats is a snapshot of the parser counters.
type Stats struct {
	Bytes      uint64 `json:"bytes"`
	Frames     uint64 `json:"frames"`
	Dropped    uint64 `json:"dropped"`
	Abandoned  uint64 `json:"abandoned"`
	Overflowed uint64 `json:"overflowed"`
}

// Handler receives each frame emitted by Parser.Write.
type Handler func(Frame)

// Parser is a byte-at-a-time frame extractor. It is owned by a single producer
// goroutine; only Stats may be called concurrently.
type Parser struct {
	markers Markers
	maxLen  int
	handler Handler

	state State
	buf   []byte

	bytes      atomic.Uint64
	frames     atomic.Uint64
	dropped    atomic.Uint64
	abandoned  atomic.Uint64
	overflowed atomic.Uint64
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxFrameLen bounds the accumulator. Values <= 0 keep the default.
func WithMaxFrameLen(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLen = n
		}
	}
}

// WithHandler sets the callback used by Write for every emitted frame.
func WithHandler(h Handler) Option {
	return func(p *Parser) { p.handler = h }
}

// NewParser returns a parser in the WaitingForStart state.
func NewParser(markers Markers, opts ...Option) (*Parser, error) {
	if err := markers.Validate(); err != nil {
		return nil, err
	}
	p := &Parser{
		markers: markers,
		maxLen:  DefaultMaxFrameLen,
		state:   WaitingForStart,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buf = make([]byte, 0, min(p.maxLen, 256))
	return p, nil
}

// Feed advances the state machine by one byte. It returns the completed frame
// and true when b is an end marker closing a frame.
func (p *Parser) Feed(b byte) (Frame, bool) {
	p.bytes.Add(1)

	switch p.state {
	case WaitingForStart:
		if b == p.markers.Start {
			p.buf = p.buf[:0]
			p.state = InFrame
		}
		return Frame{}, false

	case InFrame:
		switch {
		case b == p.markers.End:
			p.state = WaitingForStart
			f := Frame{Text: string(p.buf)}
			p.buf = p.buf[:0]
			p.frames.Add(1)
			return f, true

		case b == p.markers.Start:
			// resynchronise on the newest start marker
			p.buf = p.buf[:0]
			p.abandoned.Add(1)

		case isPayloadByte(b):
			if len(p.buf) >= p.maxLen {
				p.buf = p.buf[:0]
				p.state = WaitingForStart
				p.overflowed.Add(1)
				return Frame{}, false
			}
			p.buf = append(p.buf, b)

		default:
			p.dropped.Add(1)
		}
	}
	return Frame{}, false
}

// Write feeds every byte of data through the parser and passes each completed
// frame to the configured handler. It never fails.
func (p *Parser) Write(data []byte) (int, error) {
	for _, b := range data {
		if f, ok := p.Feed(b); ok && p.handler != nil {
			p.handler(f)
		}
	}
	return len(data), nil
}

// Reset discards any partial frame and returns to WaitingForStart. An
// unterminated frame is never emitted.
func (p *Parser) Reset() {
	if p.state == InFrame {
		p.abandoned.Add(1)
	}
	p.buf = p.buf[:0]
	p.state = WaitingForStart
}

// State reports the current parser state.
func (p *Parser) State() State {
	return p.state
}

// Markers returns the delimiters the parser was built with.
func (p *Parser) Markers() Markers {
	return p.markers
}

// Stats returns a snapshot of the counters.
func (p *Parser) Stats() Stats {
	return Stats{
		Bytes:      p.bytes.Load(),
		Frames:     p.frames.Load(),
		Dropped:    p.dropped.Load(),
		Abandoned:  p.abandoned.Load(),
		Overflowed: p.overflowed.Load(),
	}
}
