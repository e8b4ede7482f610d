package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the byte-level device under a SerialMux.
type SerialPorter interface {
	io.ReadWriteCloser
}

// TimeoutSerialPorter is a port whose reads can be bounded. OpenSerialMux
// applies the configured read timeout to any port that supports it.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// PortOpener opens the device at path. OpenPort is the real one.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)
