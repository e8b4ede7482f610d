package serialmux

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
)

// OpenPort opens a real serial port with the line settings in opts.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMux validates opts, opens path with open and bounds reads so
// Monitor notices cancellation on a silent line.
func OpenSerialMux(open PortOpener, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	normalised, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	port, err := open(path, normalised)
	if err != nil {
		return nil, err
	}
	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(normalised.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
		}
	}
	return NewSerialMux(port), nil
}

// NewRealSerialMux opens the hardware port at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(OpenPort, path, opts)
}

// ListPorts returns the serial ports currently present on the machine, sorted
// by name.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

var _ TimeoutSerialPorter = serial.Port(nil)
