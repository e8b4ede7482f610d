package channel

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Palette is the fixed colour table channels cycle through. A Palette is
// copied on construction of a Registry and never mutated afterwards.
type Palette []color.RGBA

// DefaultPalette is the gruvbox line set the plotter has always shipped with.
func DefaultPalette() Palette {
	return Palette{
		{0xfb, 0x49, 0x34, 0xff},
		{0xb8, 0xbb, 0x26, 0xff},
		{0xfa, 0xbd, 0x2f, 0xff},
		{0x83, 0xa5, 0x98, 0xff},
		{0xd3, 0x86, 0x9b, 0xff},
		{0x8e, 0xc0, 0x7c, 0xff},
		{0xfe, 0x80, 0x19, 0xff},
		{0xcc, 0x24, 0x1d, 0xff},
		{0x98, 0x97, 0x1a, 0xff},
		{0xd7, 0x99, 0x21, 0xff},
		{0x45, 0x85, 0x88, 0xff},
		{0xb1, 0x62, 0x86, 0xff},
		{0x68, 0x9d, 0x6a, 0xff},
		{0xd6, 0x5d, 0x0e, 0xff},
	}
}

// ParsePalette builds a Palette from "#rrggbb" strings.
func ParsePalette(hex []string) (Palette, error) {
	p := make(Palette, 0, len(hex))
	for _, h := range hex {
		c, err := ParseHexColor(h)
		if err != nil {
			return nil, err
		}
		p = append(p, c)
	}
	return p, nil
}

// ParseHexColor parses "#rrggbb" (the leading '#' is optional).
func ParseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: expected #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Hex formats c as "#rrggbb".
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// colorFor returns the colour assigned to id: palette[id mod len(palette)].
func (p Palette) colorFor(id ID) color.RGBA {
	if len(p) == 0 {
		return color.RGBA{A: 0xff}
	}
	return p[int(id)%len(p)]
}
