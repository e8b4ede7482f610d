package serialmux

import (
	"context"
	"net/http"
)

// DisabledSerialMux stands in when no port or fixture is configured so the
// HTTP surface still runs. It never produces bytes and accepts every
// command.
type DisabledSerialMux struct {
	tails tails
}

func NewDisabledSerialMux() *DisabledSerialMux { return &DisabledSerialMux{} }

func (d *DisabledSerialMux) Subscribe() (string, chan []byte) { return d.tails.subscribe(0) }

func (d *DisabledSerialMux) Unsubscribe(id string) { d.tails.unsubscribe(id) }

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

// Monitor idles until ctx is done.
func (d *DisabledSerialMux) Monitor(ctx context.Context, _ func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.tails.shutdown()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("serial disabled"))
	})
}

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
)
