package dispatch

import (
	"fmt"
	"strings"
)

// ParsePolicy decides what happens to a token that is not a number.
type ParsePolicy int

const (
	// SkipField leaves the channel without a sample for that cycle.
	SkipField ParsePolicy = iota
	// SubstituteNaN records math.NaN() in place of the value.
	SubstituteNaN
)

func (p ParsePolicy) String() string {
	switch p {
	case SkipField:
		return "skip"
	case SubstituteNaN:
		return "nan"
	default:
		return fmt.Sprintf("ParsePolicy(%d)", int(p))
	}
}

// ParsePolicyFromString accepts "skip" (or "") and "nan".
func ParsePolicyFromString(s string) (ParsePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return SkipField, nil
	case "nan":
		return SubstituteNaN, nil
	default:
		return SkipField, fmt.Errorf("unsupported parse failure policy %q: expected skip or nan", s)
	}
}
