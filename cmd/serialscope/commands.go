package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/httputil"
	"github.com/banshee-data/serialscope/internal/pipeline"
	"github.com/banshee-data/serialscope/internal/serialmux"
	"github.com/banshee-data/serialscope/internal/stream"
	"github.com/banshee-data/serialscope/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

// listPorts is replaced in tests.
var listPorts = serialmux.ListPorts

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports available on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := listPorts()
			if err != nil {
				return fmt.Errorf("failed to list ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

type statusChannel struct {
	ID      channel.ID `json:"id"`
	Name    string     `json:"name"`
	Color   string     `json:"color"`
	Visible bool       `json:"visible"`
}

type statusStats struct {
	Dispatcher dispatch.Stats  `json:"dispatcher"`
	Pipeline   *pipeline.Stats `json:"pipeline"`
	Recording  *struct {
		Active bool   `json:"active"`
		Path   string `json:"path"`
	} `json:"recording"`
}

// printStatus writes a summary of a running server.
func printStatus(ctx context.Context, w io.Writer, client *httputil.Client) error {
	var stats statusStats
	if err := client.GetJSON(ctx, "/api/stats", &stats); err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}
	var chans []statusChannel
	if err := client.GetJSON(ctx, "/api/channels", &chans); err != nil {
		return fmt.Errorf("failed to fetch channels: %w", err)
	}

	d := stats.Dispatcher
	fmt.Fprintf(w, "next index:  %d\n", d.Index)
	fmt.Fprintf(w, "batches:     %d (rejected tokens %d, evicted %d, sink drops %d)\n", d.Batches, d.Rejected, d.Evicted, d.SinkDrops)
	if p := stats.Pipeline; p != nil {
		fmt.Fprintf(w, "pipeline:    running=%t paused=%t raw=%s queued=%d\n", p.Running, p.Paused, p.RawMode, p.Queued)
		fmt.Fprintf(w, "parser:      frames=%d dropped=%d abandoned=%d overflowed=%d\n",
			p.Parser.Frames, p.Parser.Dropped, p.Parser.Abandoned, p.Parser.Overflowed)
	}
	if r := stats.Recording; r != nil && r.Active {
		fmt.Fprintf(w, "recording:   %s\n", r.Path)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nID\tNAME\tCOLOR\tVISIBLE")
	for _, c := range chans {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", c.ID, c.Name, c.Color, c.Visible)
	}
	return tw.Flush()
}

func newStatusCmd() *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show counters and channels of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return printStatus(ctx, cmd.OutOrStdout(), httputil.NewClient(addr, nil))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "Server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

// formatBatch renders a batch as "index id=value ..." with ids ascending.
func formatBatch(b dispatch.Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", b.Index)
	for _, id := range b.IDs() {
		v := b.Values[id]
		if math.IsNaN(v) {
			fmt.Fprintf(&sb, " %d=NaN", id)
			continue
		}
		fmt.Fprintf(&sb, " %d=%g", id, v)
	}
	return sb.String()
}

func newWatchCmd() *cobra.Command {
	var addr string
	var ids []int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print batches from a server's gRPC stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer conn.Close()

			filter := make([]channel.ID, len(ids))
			for i, id := range ids {
				filter[i] = channel.ID(id)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			sub, err := stream.Subscribe(ctx, conn, filter...)
			if err != nil {
				return err
			}
			for {
				b, err := sub.Recv()
				if err == io.EOF || ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return fmt.Errorf("stream ended: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatBatch(b))
			}
		},
	}
	cmd.Flags().StringVar(&addr, "grpc", "127.0.0.1:9090", "gRPC stream address")
	cmd.Flags().IntSliceVar(&ids, "channel", nil, "Only print these channel ids")
	return cmd
}
