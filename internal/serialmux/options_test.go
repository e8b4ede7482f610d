package serialmux

import (
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N", ReadTimeout: DefaultReadTimeout}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_ExplicitValues(t *testing.T) {
	opts := PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even", ReadTimeout: time.Second}
	got, err := opts.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != 9600 || got.DataBits != 7 || got.StopBits != 2 {
		t.Errorf("unexpected framing: %+v", got)
	}
	if got.Parity != "E" {
		t.Errorf("Parity = %q, want %q", got.Parity, "E")
	}
	if got.ReadTimeout != time.Second {
		t.Errorf("ReadTimeout = %v, want 1s", got.ReadTimeout)
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"non standard baud", PortOptions{BaudRate: 12345}},
		{"data bits too small", PortOptions{DataBits: 4}},
		{"data bits too large", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalise(); err == nil {
				t.Errorf("Normalise(%+v) expected error", tt.opts)
			}
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	if !(PortOptions{}).Equal(PortOptions{BaudRate: 115200, Parity: "none"}) {
		t.Error("defaults should equal their explicit form")
	}
	if (PortOptions{BaudRate: 9600}).Equal(PortOptions{BaudRate: 19200}) {
		t.Error("different baud rates should not be equal")
	}
	if (PortOptions{BaudRate: 1}).Equal(PortOptions{BaudRate: 1}) {
		t.Error("invalid options should never be equal")
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "O"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 57600 {
		t.Errorf("BaudRate = %d", mode.BaudRate)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}

	if _, err := (PortOptions{DataBits: 12}).SerialMode(); err == nil {
		t.Error("expected error for invalid options")
	}
}
