// Command serialscope reads delimited numeric frames from a serial device and
// serves the resulting channels over HTTP, gRPC and NATS.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/serialscope/internal/version"
)

const exampleUsage = `  serialscope serve --port /dev/ttyUSB0 --baud-rate 115200
  serialscope serve --mock-fixture fixtures.txt --db serialscope.db
  serialscope ports
  serialscope status --addr http://127.0.0.1:8080
  serialscope watch --grpc 127.0.0.1:9090 --channel 0 --channel 2`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "serialscope",
		Short:         "Plot numeric frames streamed over a serial port",
		Example:       exampleUsage,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(newServeCmd(), newPortsCmd(), newStatusCmd(), newWatchCmd(), newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
