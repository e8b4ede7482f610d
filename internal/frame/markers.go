package frame

import (
	"errors"
	"fmt"
)

// ErrInvalidMarkers is returned when the start and end markers cannot delimit
// a frame unambiguously.
var ErrInvalidMarkers = errors.New("invalid frame markers")

// DefaultMaxFrameLen bounds the payload accumulated between two markers.
const DefaultMaxFrameLen = 4096

// Markers holds the single-byte delimiters that bound a frame on the wire.
type Markers struct {
	Start byte `json:"start"`
	End   byte `json:"end"`
}

// DefaultMarkers returns the "$" ... ";" framing used by the plotter firmware
// examples.
func DefaultMarkers() Markers {
	return Markers{Start: '$', End: ';'}
}

// Validate rejects marker pairs the parser could confuse with payload bytes.
// The end marker may be whitespace (for example '\n') because the end check
// runs before the payload whitelist.
func (m Markers) Validate() error {
	if m.Start == m.End {
		return fmt.Errorf("%w: start and end are both %q", ErrInvalidMarkers, m.Start)
	}
	if isPayloadByte(m.Start) {
		return fmt.Errorf("%w: start marker %q is a payload byte", ErrInvalidMarkers, m.Start)
	}
	if isPayloadByte(m.End) && !isSpace(m.End) {
		return fmt.Errorf("%w: end marker %q is a payload byte", ErrInvalidMarkers, m.End)
	}
	return nil
}

// isPayloadByte reports whether b may appear inside a frame: an ASCII digit,
// whitespace, '-' or '.'.
func isPayloadByte(b byte) bool {
	return (b >= '0' && b <= '9') || isSpace(b) || b == '-' || b == '.'
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
