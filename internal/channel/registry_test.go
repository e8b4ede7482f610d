package channel

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveGrowsInOrder(t *testing.T) {
	r := NewRegistry(DefaultPalette())

	var added []ID
	r.OnAdded(func(c Channel) { added = append(added, c.ID) })

	assert.Equal(t, ID(2), r.Resolve(2))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []ID{0, 1, 2}, added)

	// resolving an existing position is a no-op
	assert.Equal(t, ID(1), r.Resolve(1))
	assert.Equal(t, 3, r.Len())
	assert.Len(t, added, 3)
}

func TestRegistry_MonotonicGrowth(t *testing.T) {
	r := NewRegistry(nil)
	counts := []int{2, 3, 3, 1}
	prev := 0
	for _, n := range counts {
		for p := 0; p < n; p++ {
			require.Equal(t, ID(p), r.Resolve(p))
		}
		require.GreaterOrEqual(t, r.Len(), prev)
		prev = r.Len()
	}
	assert.Equal(t, 3, r.Len())
	for i, ch := range r.Channels() {
		assert.Equal(t, ID(i), ch.ID)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(DefaultPalette())
	r.Resolve(0)

	ch, ok := r.Get(0)
	require.True(t, ok)
	assert.Equal(t, "Channel 0", ch.Name)
	assert.True(t, ch.Visible)
	assert.Equal(t, DefaultPalette()[0], ch.Color)
}

func TestRegistry_PaletteCycles(t *testing.T) {
	pal := Palette{{R: 1, A: 0xff}, {R: 2, A: 0xff}, {R: 3, A: 0xff}}
	r := NewRegistry(pal)
	r.Resolve(7)

	chans := r.Channels()
	for _, ch := range chans {
		assert.Equal(t, pal[int(ch.ID)%3], ch.Color, "channel %d", ch.ID)
	}
}

func TestRegistry_PaletteIsCopied(t *testing.T) {
	pal := Palette{{R: 9, A: 0xff}}
	r := NewRegistry(pal)
	pal[0] = color.RGBA{R: 1}
	r.Resolve(0)

	ch, _ := r.Get(0)
	assert.Equal(t, uint8(9), ch.Color.R)
}

func TestRegistry_RenameAndVisibility(t *testing.T) {
	r := NewRegistry(nil)
	r.Resolve(1)

	require.NoError(t, r.Rename(1, "pressure"))
	require.NoError(t, r.SetVisible(0, false))

	ch0, _ := r.Get(0)
	ch1, _ := r.Get(1)
	assert.False(t, ch0.Visible)
	assert.Equal(t, "pressure", ch1.Name)

	r.ShowAll()
	ch0, _ = r.Get(0)
	assert.True(t, ch0.Visible)

	assert.ErrorIs(t, r.Rename(5, "x"), ErrUnknownChannel)
	assert.ErrorIs(t, r.SetVisible(-1, true), ErrUnknownChannel)
}

func TestRegistry_PresetNames(t *testing.T) {
	r := NewRegistry(nil, WithNames(map[ID]string{1: "temp"}))
	r.Resolve(1)

	ch, _ := r.Get(1)
	assert.Equal(t, "temp", ch.Name)

	r.Preset(0, "humidity")
	ch, _ = r.Get(0)
	assert.Equal(t, "humidity", ch.Name)

	// presets outlive a reset
	r.Reset()
	r.Resolve(0)
	ch, _ = r.Get(0)
	assert.Equal(t, "humidity", ch.Name)
}

func TestRegistry_ResetIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	r.Resolve(3)

	r.Reset()
	assert.Equal(t, 0, r.Len())
	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Channels())

	_, ok := r.Get(0)
	assert.False(t, ok)
}

func TestParsePalette(t *testing.T) {
	pal, err := ParsePalette([]string{"#fb4934", "0000FF"})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0xfb, 0x49, 0x34, 0xff}, pal[0])
	assert.Equal(t, "#0000ff", Hex(pal[1]))

	_, err = ParsePalette([]string{"#12"})
	assert.Error(t, err)
	_, err = ParsePalette([]string{"#zzzzzz"})
	assert.Error(t, err)
}
