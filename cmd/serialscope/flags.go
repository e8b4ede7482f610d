package main

import (
	"github.com/spf13/pflag"

	"github.com/banshee-data/serialscope/internal/config"
)

// addServeFlags registers one flag per config key. Flags only override the
// file when set explicitly.
func addServeFlags(fs *pflag.FlagSet) {
	fs.String("port", "", "Serial device path")
	fs.Int("baud-rate", 0, "Serial baud rate (default 9600)")
	fs.Int("data-bits", 0, "Serial data bits (default 8)")
	fs.Int("stop-bits", 0, "Serial stop bits (default 1)")
	fs.String("parity", "", "Serial parity: none, odd, even, mark or space")
	fs.String("read-timeout", "", "Serial read timeout, e.g. 100ms")
	fs.String("mock-fixture", "", "Replay this file instead of opening a serial port")
	fs.String("mock-interval", "", "Replay period for --mock-fixture (default 500ms)")

	fs.String("start-marker", "", "Frame start byte (default $)")
	fs.String("end-marker", "", "Frame end byte (default ;)")
	fs.Int("max-frame-len", 0, "Longest accepted frame payload in bytes")
	fs.String("parse-failure", "", "Non-numeric token policy: skip or nan")
	fs.Int("buffer-capacity", 0, "Samples kept per channel; 0 keeps all")
	fs.Int("queue-depth", 0, "Frames queued between parser and dispatcher")
	fs.Int("sink-buffer", 0, "Batches queued per subscriber")
	fs.String("raw-mode", "", "Raw tee mode: all or filtered")
	fs.StringSlice("palette", nil, "Channel colours as #rrggbb, in channel order")
	fs.StringToString("name", nil, "Channel name preset, e.g. --name 0=temperature")

	fs.String("listen", "", "HTTP listen address (default 127.0.0.1:8080)")
	fs.String("grpc-listen", "", "gRPC stream listen address; empty disables it")
	fs.String("db", "", "SQLite session database; empty disables recording")
	fs.String("nats-url", "", "NATS server URL; empty disables publishing")
	fs.String("nats-subject", "", "NATS subject for batches")
	fs.String("export-dir", "", "Directory for CSV recordings and PNG exports")
	fs.Int("window", 0, "Sample indices shown and exported (default 1000)")

	fs.String("log-level", "", "Log level: debug, info, warn or error")
	fs.Bool("log-json", false, "Write logs as JSON")
}

// flagConfig returns a Config holding only the flags set on the command line.
func flagConfig(fs *pflag.FlagSet) *config.Config {
	c := &config.Config{}
	str := func(name string, dst **string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = &v
		}
	}
	num := func(name string, dst **int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = &v
		}
	}

	str("port", &c.Port)
	num("baud-rate", &c.BaudRate)
	num("data-bits", &c.DataBits)
	num("stop-bits", &c.StopBits)
	str("parity", &c.Parity)
	str("read-timeout", &c.ReadTimeout)
	str("mock-fixture", &c.MockFixture)
	str("mock-interval", &c.MockInterval)
	str("start-marker", &c.StartMarker)
	str("end-marker", &c.EndMarker)
	num("max-frame-len", &c.MaxFrameLen)
	str("parse-failure", &c.ParseFailure)
	num("buffer-capacity", &c.BufferCapacity)
	num("queue-depth", &c.QueueDepth)
	num("sink-buffer", &c.SinkBuffer)
	str("raw-mode", &c.RawMode)
	str("listen", &c.Listen)
	str("grpc-listen", &c.GRPCListen)
	str("db", &c.DBPath)
	str("nats-url", &c.NATSURL)
	str("nats-subject", &c.NATSSubject)
	str("export-dir", &c.ExportDir)
	num("window", &c.Window)
	str("log-level", &c.LogLevel)

	if fs.Changed("log-json") {
		v, _ := fs.GetBool("log-json")
		c.LogJSON = &v
	}
	if fs.Changed("palette") {
		c.Palette, _ = fs.GetStringSlice("palette")
	}
	if fs.Changed("name") {
		c.ChannelNames, _ = fs.GetStringToString("name")
	}
	return c
}

// loadConfig reads path (when set) and overlays the explicit flags.
func loadConfig(path string, flags *config.Config) (*config.Config, error) {
	cfg := &config.Config{}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Merge(flags)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
