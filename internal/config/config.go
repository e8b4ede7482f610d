// Package config loads serialscope settings from JSON or TOML files.
//
// Every field is a pointer so that a partial file only overrides what it
// names; the Get* accessors fall back to defaults for anything unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/frame"
	"github.com/banshee-data/serialscope/internal/pipeline"
	"github.com/banshee-data/serialscope/internal/serialmux"
)

// maxFileSize bounds the config files we are willing to parse.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults for settings without a natural zero value.
const (
	DefaultListen      = "127.0.0.1:8080"
	DefaultNATSSubject = "serialscope.batches"
	DefaultWindow      = 1000
	DefaultLogLevel    = "info"
)

// Config is the root configuration. Field names match the file keys.
type Config struct {
	// Source
	Port         *string `json:"port,omitempty" toml:"port,omitempty"`
	BaudRate     *int    `json:"baud_rate,omitempty" toml:"baud_rate,omitempty"`
	DataBits     *int    `json:"data_bits,omitempty" toml:"data_bits,omitempty"`
	StopBits     *int    `json:"stop_bits,omitempty" toml:"stop_bits,omitempty"`
	Parity       *string `json:"parity,omitempty" toml:"parity,omitempty"`
	ReadTimeout  *string `json:"read_timeout,omitempty" toml:"read_timeout,omitempty"` // duration string like "100ms"
	MockFixture  *string `json:"mock_fixture,omitempty" toml:"mock_fixture,omitempty"`
	MockInterval *string `json:"mock_interval,omitempty" toml:"mock_interval,omitempty"`

	// Framing and dispatch
	StartMarker    *string `json:"start_marker,omitempty" toml:"start_marker,omitempty"`
	EndMarker      *string `json:"end_marker,omitempty" toml:"end_marker,omitempty"`
	MaxFrameLen    *int    `json:"max_frame_len,omitempty" toml:"max_frame_len,omitempty"`
	ParseFailure   *string `json:"parse_failure,omitempty" toml:"parse_failure,omitempty"`
	BufferCapacity *int    `json:"buffer_capacity,omitempty" toml:"buffer_capacity,omitempty"`
	QueueDepth     *int    `json:"queue_depth,omitempty" toml:"queue_depth,omitempty"`
	SinkBuffer     *int    `json:"sink_buffer,omitempty" toml:"sink_buffer,omitempty"`
	RawMode        *string `json:"raw_mode,omitempty" toml:"raw_mode,omitempty"`

	// Channels
	Palette      []string          `json:"palette,omitempty" toml:"palette,omitempty"`
	ChannelNames map[string]string `json:"channel_names,omitempty" toml:"channel_names,omitempty"`

	// Consumers
	Listen      *string `json:"listen,omitempty" toml:"listen,omitempty"`
	GRPCListen  *string `json:"grpc_listen,omitempty" toml:"grpc_listen,omitempty"`
	DBPath      *string `json:"db_path,omitempty" toml:"db_path,omitempty"`
	NATSURL     *string `json:"nats_url,omitempty" toml:"nats_url,omitempty"`
	NATSSubject *string `json:"nats_subject,omitempty" toml:"nats_subject,omitempty"`
	ExportDir   *string `json:"export_dir,omitempty" toml:"export_dir,omitempty"`
	Window      *int    `json:"window,omitempty" toml:"window,omitempty"`

	// Logging
	LogLevel *string `json:"log_level,omitempty" toml:"log_level,omitempty"`
	LogJSON  *bool   `json:"log_json,omitempty" toml:"log_json,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// Load reads a Config from a .json or .toml file and validates it. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".toml" {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the set values are usable.
func (c *Config) Validate() error {
	if _, err := c.PortOptions(); err != nil {
		return err
	}
	if _, err := c.Markers(); err != nil {
		return err
	}
	if _, err := c.GetParsePolicy(); err != nil {
		return fmt.Errorf("invalid parse_failure: %w", err)
	}
	if _, err := c.GetRawMode(); err != nil {
		return fmt.Errorf("invalid raw_mode: %w", err)
	}
	if _, err := c.GetPalette(); err != nil {
		return fmt.Errorf("invalid palette: %w", err)
	}
	if _, err := c.GetChannelNames(); err != nil {
		return err
	}
	if _, err := c.GetMockInterval(); err != nil {
		return err
	}

	nonNegative := map[string]*int{
		"max_frame_len":   c.MaxFrameLen,
		"buffer_capacity": c.BufferCapacity,
		"queue_depth":     c.QueueDepth,
		"sink_buffer":     c.SinkBuffer,
		"window":          c.Window,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	if c.LogLevel != nil {
		switch *c.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log_level must be debug, info, warn or error, got %q", *c.LogLevel)
		}
	}
	return nil
}

// Merge overlays every field set in other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	merge := func(dst, src any) {
		switch d := dst.(type) {
		case **string:
			if s := src.(*string); s != nil {
				*d = s
			}
		case **int:
			if s := src.(*int); s != nil {
				*d = s
			}
		case **bool:
			if s := src.(*bool); s != nil {
				*d = s
			}
		}
	}
	merge(&c.Port, other.Port)
	merge(&c.BaudRate, other.BaudRate)
	merge(&c.DataBits, other.DataBits)
	merge(&c.StopBits, other.StopBits)
	merge(&c.Parity, other.Parity)
	merge(&c.ReadTimeout, other.ReadTimeout)
	merge(&c.MockFixture, other.MockFixture)
	merge(&c.MockInterval, other.MockInterval)
	merge(&c.StartMarker, other.StartMarker)
	merge(&c.EndMarker, other.EndMarker)
	merge(&c.MaxFrameLen, other.MaxFrameLen)
	merge(&c.ParseFailure, other.ParseFailure)
	merge(&c.BufferCapacity, other.BufferCapacity)
	merge(&c.QueueDepth, other.QueueDepth)
	merge(&c.SinkBuffer, other.SinkBuffer)
	merge(&c.RawMode, other.RawMode)
	merge(&c.Listen, other.Listen)
	merge(&c.GRPCListen, other.GRPCListen)
	merge(&c.DBPath, other.DBPath)
	merge(&c.NATSURL, other.NATSURL)
	merge(&c.NATSSubject, other.NATSSubject)
	merge(&c.ExportDir, other.ExportDir)
	merge(&c.Window, other.Window)
	merge(&c.LogLevel, other.LogLevel)
	merge(&c.LogJSON, other.LogJSON)
	if other.Palette != nil {
		c.Palette = other.Palette
	}
	if other.ChannelNames != nil {
		c.ChannelNames = other.ChannelNames
	}
}

func stringOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// GetPort returns the serial device path; empty means no device.
func (c *Config) GetPort() string { return stringOr(c.Port, "") }

// PortOptions returns the normalised serial options.
func (c *Config) PortOptions() (serialmux.PortOptions, error) {
	opts := serialmux.PortOptions{
		BaudRate: intOr(c.BaudRate, serialmux.DefaultBaudRate),
		DataBits: intOr(c.DataBits, 0),
		StopBits: intOr(c.StopBits, 0),
		Parity:   stringOr(c.Parity, ""),
	}
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return opts, fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		opts.ReadTimeout = d
	}
	return opts.Normalise()
}

// GetMockFixture returns the frames replayed by the mock source; empty
// disables it.
func (c *Config) GetMockFixture() string { return stringOr(c.MockFixture, "") }

// GetMockInterval returns the mock replay period, default 500ms.
func (c *Config) GetMockInterval() (time.Duration, error) {
	if c.MockInterval == nil || *c.MockInterval == "" {
		return 500 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(*c.MockInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid mock_interval '%s': %w", *c.MockInterval, err)
	}
	return d, nil
}

// parseMarker accepts a single byte or a Go escape such as "\n" or "\x02".
func parseMarker(name, s string, def byte) (byte, error) {
	if s == "" {
		return def, nil
	}
	if len(s) > 1 {
		u, err := strconv.Unquote(`"` + s + `"`)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
		s = u
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("invalid %s %q: must be a single byte", name, s)
	}
	return s[0], nil
}

// Markers returns the validated frame delimiters.
func (c *Config) Markers() (frame.Markers, error) {
	def := frame.DefaultMarkers()
	start, err := parseMarker("start_marker", stringOr(c.StartMarker, ""), def.Start)
	if err != nil {
		return def, err
	}
	end, err := parseMarker("end_marker", stringOr(c.EndMarker, ""), def.End)
	if err != nil {
		return def, err
	}
	m := frame.Markers{Start: start, End: end}
	if err := m.Validate(); err != nil {
		return def, err
	}
	return m, nil
}

// GetMaxFrameLen returns the accumulator bound.
func (c *Config) GetMaxFrameLen() int {
	if v := intOr(c.MaxFrameLen, 0); v > 0 {
		return v
	}
	return frame.DefaultMaxFrameLen
}

// GetParsePolicy returns the non-numeric token policy, default skip.
func (c *Config) GetParsePolicy() (dispatch.ParsePolicy, error) {
	return dispatch.ParsePolicyFromString(stringOr(c.ParseFailure, "skip"))
}

// GetBufferCapacity returns the per-channel sample bound; 0 is unbounded.
func (c *Config) GetBufferCapacity() int { return intOr(c.BufferCapacity, 0) }

// GetQueueDepth returns the frame queue capacity.
func (c *Config) GetQueueDepth() int {
	if v := intOr(c.QueueDepth, 0); v > 0 {
		return v
	}
	return pipeline.DefaultQueueDepth
}

// GetSinkBuffer returns the per-subscriber batch queue depth.
func (c *Config) GetSinkBuffer() int {
	if v := intOr(c.SinkBuffer, 0); v > 0 {
		return v
	}
	return dispatch.DefaultSinkBuffer
}

// GetRawMode returns the raw tee mode, default all.
func (c *Config) GetRawMode() (pipeline.RawMode, error) {
	return pipeline.ParseRawMode(stringOr(c.RawMode, ""))
}

// GetPalette returns the configured palette or the default one.
func (c *Config) GetPalette() (channel.Palette, error) {
	if len(c.Palette) == 0 {
		return channel.DefaultPalette(), nil
	}
	return channel.ParsePalette(c.Palette)
}

// GetChannelNames returns preset channel names keyed by channel id.
func (c *Config) GetChannelNames() (map[channel.ID]string, error) {
	out := make(map[channel.ID]string, len(c.ChannelNames))
	for k, v := range c.ChannelNames {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid channel_names key %q: must be a channel id", k)
		}
		out[channel.ID(id)] = v
	}
	return out, nil
}

func (c *Config) GetListen() string      { return stringOr(c.Listen, DefaultListen) }
func (c *Config) GetGRPCListen() string  { return stringOr(c.GRPCListen, "") }
func (c *Config) GetDBPath() string      { return stringOr(c.DBPath, "") }
func (c *Config) GetNATSURL() string     { return stringOr(c.NATSURL, "") }
func (c *Config) GetNATSSubject() string { return stringOr(c.NATSSubject, DefaultNATSSubject) }
func (c *Config) GetExportDir() string   { return stringOr(c.ExportDir, ".") }
func (c *Config) GetLogLevel() string    { return stringOr(c.LogLevel, DefaultLogLevel) }

// GetWindow returns the number of recent indices shown and exported.
func (c *Config) GetWindow() int {
	if v := intOr(c.Window, 0); v > 0 {
		return v
	}
	return DefaultWindow
}

// GetLogJSON reports whether logs are written as JSON.
func (c *Config) GetLogJSON() bool {
	if c.LogJSON != nil {
		return *c.LogJSON
	}
	return false
}
