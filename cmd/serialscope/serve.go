package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/banshee-data/serialscope/internal/api"
	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/config"
	"github.com/banshee-data/serialscope/internal/db"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/export"
	"github.com/banshee-data/serialscope/internal/monitoring"
	"github.com/banshee-data/serialscope/internal/natsink"
	"github.com/banshee-data/serialscope/internal/pipeline"
	"github.com/banshee-data/serialscope/internal/serialmux"
	"github.com/banshee-data/serialscope/internal/stream"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read the serial source and serve channels until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := flagConfig(cmd.Flags())
			cfg, err := loadConfig(cfgPath, flags)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := configureLogging(cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cfgPath, flags)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Config file (.json or .toml), reloaded on change")
	addServeFlags(cmd.Flags())
	return cmd
}

func configureLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	monitoring.SetOutput(os.Stderr, level, cfg.GetLogJSON())
	return nil
}

// openSource picks the byte source: the mock replay, the serial device, or a
// disabled source when neither is configured.
func openSource(cfg *config.Config) (serialmux.SerialMuxInterface, string, error) {
	if fixture := cfg.GetMockFixture(); fixture != "" {
		data, err := os.ReadFile(fixture)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open fixtures file: %w", err)
		}
		interval, err := cfg.GetMockInterval()
		if err != nil {
			return nil, "", err
		}
		return serialmux.NewMockSerialMux(data, interval), "mock:" + fixture, nil
	}
	if port := cfg.GetPort(); port != "" {
		opts, err := cfg.PortOptions()
		if err != nil {
			return nil, "", err
		}
		m, err := serialmux.NewRealSerialMux(port, opts)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open serial port: %w", err)
		}
		return m, port, nil
	}
	monitoring.Logf("no serial port or mock fixture configured; serving without a source")
	return serialmux.NewDisabledSerialMux(), "disabled", nil
}

func newDispatcher(cfg *config.Config, metrics *monitoring.Metrics) (*dispatch.Dispatcher, error) {
	policy, err := cfg.GetParsePolicy()
	if err != nil {
		return nil, err
	}
	palette, err := cfg.GetPalette()
	if err != nil {
		return nil, err
	}
	names, err := cfg.GetChannelNames()
	if err != nil {
		return nil, err
	}
	d := dispatch.New(dispatch.Config{
		Policy:         policy,
		BufferCapacity: cfg.GetBufferCapacity(),
		SinkBuffer:     cfg.GetSinkBuffer(),
		Palette:        palette,
		Names:          names,
		Metrics:        metrics,
	})
	d.OnChannelAdded(func(c channel.Channel) {
		l := monitoring.Logger()
		l.Info().Int("channel", int(c.ID)).Str("name", c.Name).Msg("channel added")
	})
	return d, nil
}

func newPipeline(cfg *config.Config, src pipeline.Source, d *dispatch.Dispatcher, metrics *monitoring.Metrics) (*pipeline.Pipeline, error) {
	markers, err := cfg.Markers()
	if err != nil {
		return nil, err
	}
	raw, err := cfg.GetRawMode()
	if err != nil {
		return nil, err
	}
	return pipeline.New(src, d, pipeline.Config{
		Markers:     markers,
		MaxFrameLen: cfg.GetMaxFrameLen(),
		QueueDepth:  cfg.GetQueueDepth(),
		RawMode:     raw,
		Metrics:     metrics,
	})
}

// applyLive pushes the settings that can change without a restart.
func applyLive(cfg *config.Config, d *dispatch.Dispatcher, p *pipeline.Pipeline) error {
	names, err := cfg.GetChannelNames()
	if err != nil {
		return err
	}
	for id, name := range names {
		d.PresetName(id, name)
	}
	if cfg.RawMode != nil {
		mode, err := cfg.GetRawMode()
		if err != nil {
			return err
		}
		p.SetRawMode(mode)
	}
	return configureLogging(cfg)
}

func serve(ctx context.Context, cfg *config.Config, cfgPath string, flags *config.Config) error {
	metrics := monitoring.NewMetrics()

	src, sourceName, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	disp, err := newDispatcher(cfg, metrics)
	if err != nil {
		return err
	}
	pipe, err := newPipeline(cfg, src, disp, metrics)
	if err != nil {
		return err
	}

	var store *db.DB
	if path := cfg.GetDBPath(); path != "" {
		store, err = db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()
	}

	var sink *natsink.Sink
	if url := cfg.GetNATSURL(); url != "" {
		nc, err := natsink.Connect(url)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sink = natsink.NewSink(nc, disp, cfg.GetNATSSubject(), metrics)
	}

	csv := export.NewStreamRecorder(disp, cfg.GetExportDir())
	server := api.NewServer(api.Options{
		Dispatcher: disp,
		Pipeline:   pipe,
		Serial:     src,
		Recorder:   csv,
		DB:         store,
		Metrics:    metrics,
		ExportDir:  cfg.GetExportDir(),
		Window:     cfg.GetWindow(),
	})

	var wg sync.WaitGroup

	// run the pipeline to read the source and feed the dispatcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := pipe.Run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, pipeline.ErrSourceClosed):
			monitoring.Logf("source %s closed: %v; buffers remain available", sourceName, err)
		default:
			monitoring.Logf("pipeline stopped: %v", err)
		}
		monitoring.Logf("pipeline routine terminated")
	}()

	// subscribers end once the dispatcher closes
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if _, on := csv.Recording(); on {
			if err := csv.Stop(); err != nil {
				monitoring.Logf("failed to finish csv recording: %v", err)
			}
		}
		disp.Close()
	}()

	if store != nil {
		markers, _ := cfg.Markers()
		policy, _ := cfg.GetParsePolicy()
		rec := db.NewRecorder(store, disp, db.SessionMeta{
			Source:      sourceName,
			StartMarker: markers.Start,
			EndMarker:   markers.End,
			ParsePolicy: policy.String(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Run(ctx); err != nil {
				monitoring.Logf("session recorder stopped: %v", err)
			}
		}()
	}

	if sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.Run(ctx); err != nil {
				monitoring.Logf("nats sink stopped: %v", err)
			}
		}()
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stream.Serve(ctx, addr, stream.NewServer(disp)); err != nil {
				monitoring.Logf("grpc stream stopped: %v", err)
			}
		}()
	}

	if cfgPath != "" {
		w := config.NewWatcher(cfgPath, 0, func(next *config.Config) {
			next.Merge(flags)
			if err := applyLive(next, disp, pipe); err != nil {
				monitoring.Logf("ignoring config reload: %v", err)
				return
			}
			monitoring.Logf("applied config reload from %s", cfgPath)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("config watcher stopped: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()
		src.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				monitoring.Logf("failed to attach db admin routes: %v", err)
			}
		}

		httpServer := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			monitoring.Logf("listening on http://%s", cfg.GetListen())
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		monitoring.Logf("HTTP server routine stopped")
	}()

	wg.Wait()
	monitoring.Logf("graceful shutdown complete")
	return nil
}
