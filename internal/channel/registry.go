// Package channel holds the channel identity table and the per-channel sample
// buffers fed by the dispatcher.
//
// Neither Registry nor Buffer is safe for concurrent use on its own; the
// dispatcher serialises access to both.
package channel

import (
	"errors"
	"fmt"
	"image/color"
)

// ErrUnknownChannel is returned for operations on an id that has not been
// registered yet (or was removed by Reset).
var ErrUnknownChannel = errors.New("unknown channel")

// ID identifies a channel by the field position it was first seen at.
type ID int

// Channel describes one logical data series.
type Channel struct {
	ID      ID         `json:"id"`
	Name    string     `json:"name"`
	Color   color.RGBA `json:"-"`
	Visible bool       `json:"visible"`
}

// DefaultName is the name a channel gets when no preset exists.
func DefaultName(id ID) string {
	return fmt.Sprintf("Channel %d", int(id))
}

// Registry maps field positions to channels. Channels are only ever appended
// at the end, so a channel's id always equals its position.
type Registry struct {
	palette  Palette
	presets  map[ID]string
	channels []Channel
	onAdded  []func(Channel)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNames presets display names for channels that have not appeared yet.
// Presets survive Reset.
func WithNames(names map[ID]string) RegistryOption {
	return func(r *Registry) {
		for id, n := range names {
			r.presets[id] = n
		}
	}
}

// NewRegistry returns an empty registry using a private copy of palette.
func NewRegistry(palette Palette, opts ...RegistryOption) *Registry {
	if len(palette) == 0 {
		palette = DefaultPalette()
	}
	r := &Registry{
		palette: append(Palette(nil), palette...),
		presets: make(map[ID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnAdded registers an observer called synchronously for every new channel.
func (r *Registry) OnAdded(fn func(Channel)) {
	r.onAdded = append(r.onAdded, fn)
}

// Resolve returns the channel for position, registering it (and any missing
// positions before it) if needed.
func (r *Registry) Resolve(position int) ID {
	for len(r.channels) <= position {
		id := ID(len(r.channels))
		name := DefaultName(id)
		if n, ok := r.presets[id]; ok {
			name = n
		}
		ch := Channel{
			ID:      id,
			Name:    name,
			Color:   r.palette.colorFor(id),
			Visible: true,
		}
		r.channels = append(r.channels, ch)
		for _, fn := range r.onAdded {
			fn(ch)
		}
	}
	return ID(position)
}

// Get returns the channel registered under id.
func (r *Registry) Get(id ID) (Channel, bool) {
	if id < 0 || int(id) >= len(r.channels) {
		return Channel{}, false
	}
	return r.channels[id], true
}

// Rename changes a channel's display name. It does not affect parsing.
func (r *Registry) Rename(id ID, name string) error {
	if id < 0 || int(id) >= len(r.channels) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	r.channels[id].Name = name
	return nil
}

// Preset records a name for id, applying it immediately if the channel exists.
func (r *Registry) Preset(id ID, name string) {
	r.presets[id] = name
	if int(id) < len(r.channels) && id >= 0 {
		r.channels[id].Name = name
	}
}

// SetVisible toggles the display-only visibility flag.
func (r *Registry) SetVisible(id ID, visible bool) error {
	if id < 0 || int(id) >= len(r.channels) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	r.channels[id].Visible = visible
	return nil
}

// ShowAll marks every channel visible.
func (r *Registry) ShowAll() {
	for i := range r.channels {
		r.channels[i].Visible = true
	}
}

// Reset removes every channel.
func (r *Registry) Reset() {
	r.channels = nil
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	return len(r.channels)
}

// Channels returns a copy of the channel table in id order.
func (r *Registry) Channels() []Channel {
	return append([]Channel(nil), r.channels...)
}
