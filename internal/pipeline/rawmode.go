package pipeline

import (
	"fmt"
	"strings"
)

// RawMode selects what the raw tee mirrors to raw subscribers.
type RawMode int32

const (
	// RawAll mirrors every byte read from the source.
	RawAll RawMode = iota
	// RawFiltered mirrors only the text of completed frames.
	RawFiltered
)

func (m RawMode) String() string {
	switch m {
	case RawAll:
		return "all"
	case RawFiltered:
		return "filtered"
	default:
		return fmt.Sprintf("RawMode(%d)", int(m))
	}
}

// ParseRawMode accepts "all" or "filtered".
func ParseRawMode(s string) (RawMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return RawAll, nil
	case "filtered":
		return RawFiltered, nil
	default:
		return RawAll, fmt.Errorf("unknown raw mode %q: expected all or filtered", s)
	}
}
