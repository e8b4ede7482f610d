package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/frame"
	"github.com/banshee-data/serialscope/internal/monitoring"
	"github.com/banshee-data/serialscope/internal/serialmux"
)

// sourceFunc adapts a function to Source.
type sourceFunc func(ctx context.Context, handle func([]byte)) error

func (f sourceFunc) Monitor(ctx context.Context, handle func([]byte)) error { return f(ctx, handle) }

// chunks returns a source that emits each chunk then reports err.
func chunks(err error, parts ...string) Source {
	return sourceFunc(func(ctx context.Context, handle func([]byte)) error {
		for _, p := range parts {
			handle([]byte(p))
		}
		return err
	})
}

func newPipeline(t *testing.T, src Source, cfg Config) (*Pipeline, *dispatch.Dispatcher) {
	t.Helper()
	d := dispatch.New(dispatch.Config{})
	p, err := New(src, d, cfg)
	require.NoError(t, err)
	return p, d
}

func values(t *testing.T, d *dispatch.Dispatcher, id channel.ID) []float64 {
	t.Helper()
	s, err := d.Samples(id, 0, d.Index())
	require.NoError(t, err)
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v.Value
	}
	return out
}

func TestRun_FramesAcrossChunks(t *testing.T) {
	p, d := newPipeline(t, chunks(nil, "$1 2", " 3;$4 ", "5 6;"), Config{})

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)

	assert.Equal(t, uint64(2), d.Index())
	assert.Len(t, d.Channels(), 3)
	if diff := cmp.Diff([]float64{1, 4}, values(t, d, 0)); diff != "" {
		t.Errorf("channel 0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{3, 6}, values(t, d, 2)); diff != "" {
		t.Errorf("channel 2 mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SourceErrorWrapped(t *testing.T) {
	boom := errors.New("device unplugged")
	p, _ := newPipeline(t, chunks(boom, "$1;"), Config{})

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.ErrorIs(t, err, boom)
}

func TestRun_CancelIsCleanStop(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, handle func([]byte)) error {
		handle([]byte("$7;"))
		<-ctx.Done()
		return ctx.Err()
	})
	p, d := newPipeline(t, src, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Index() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, p.Running())
}

func TestRun_AlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	src := sourceFunc(func(ctx context.Context, handle func([]byte)) error {
		<-release
		return nil
	})
	p, _ := newPipeline(t, src, Config{})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	require.Eventually(t, p.Running, time.Second, time.Millisecond)

	assert.ErrorIs(t, p.Run(context.Background()), ErrAlreadyRunning)
	close(release)
	assert.ErrorIs(t, <-done, ErrSourceClosed)
}

func TestRun_UnterminatedFrameDiscardedOnStop(t *testing.T) {
	p, d := newPipeline(t, chunks(nil, "$1 2;$3 4"), Config{})

	require.ErrorIs(t, p.Run(context.Background()), ErrSourceClosed)
	assert.Equal(t, uint64(1), d.Index())
	assert.Equal(t, uint64(1), p.Stats().Parser.Abandoned)
}

func TestPause_DiscardsFrames(t *testing.T) {
	var p *Pipeline
	src := sourceFunc(func(ctx context.Context, handle func([]byte)) error {
		handle([]byte("$1;"))
		p.Pause()
		handle([]byte("$2;$3;"))
		p.Resume()
		handle([]byte("$4;"))
		return nil
	})
	p, d := newPipeline(t, src, Config{})

	require.ErrorIs(t, p.Run(context.Background()), ErrSourceClosed)
	assert.Equal(t, []float64{1, 4}, values(t, d, 0))
	assert.Equal(t, uint64(2), p.Stats().PausedFrames)
	assert.False(t, p.Paused())
}

func TestRawTee_Modes(t *testing.T) {
	var p *Pipeline
	var all, filtered []string
	src := sourceFunc(func(ctx context.Context, handle func([]byte)) error {
		id, ch := p.SubscribeRaw()
		handle([]byte("noise$1 x2;"))
		for len(ch) > 0 {
			all = append(all, string(<-ch))
		}
		p.SetRawMode(RawFiltered)
		handle([]byte("noise$1 x2;"))
		for len(ch) > 0 {
			filtered = append(filtered, string(<-ch))
		}
		p.UnsubscribeRaw(id)
		return nil
	})
	p, _ = newPipeline(t, src, Config{})

	require.ErrorIs(t, p.Run(context.Background()), ErrSourceClosed)
	assert.Equal(t, []string{"noise$1 x2;"}, all)
	assert.Equal(t, []string{"1 2\n"}, filtered)
	assert.Equal(t, "filtered", p.Stats().RawMode)
}

func TestRun_Metrics(t *testing.T) {
	m := monitoring.NewMetrics()
	p, _ := newPipeline(t, chunks(nil, "$1 x;", "$2"), Config{Metrics: m})

	require.ErrorIs(t, p.Run(context.Background()), ErrSourceClosed)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Counter(monitoring.BytesRead)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter(monitoring.FramesParsed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter(monitoring.BytesDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter(monitoring.FramesAbandoned)))
}

func TestRun_SerialMuxSource(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.ChunkSize = 2
	port.AddReadData([]byte("$10 20 30;\r\n$11 21 31;\r\n"))
	mux := serialmux.NewSerialMux(port)

	p, d := newPipeline(t, mux, Config{})
	require.ErrorIs(t, p.Run(context.Background()), ErrSourceClosed)

	assert.Equal(t, uint64(2), d.Index())
	assert.Equal(t, []float64{30, 31}, values(t, d, 2))
}

func TestNew_InvalidMarkers(t *testing.T) {
	_, err := New(chunks(nil), dispatch.New(dispatch.Config{}), Config{Markers: frame.Markers{Start: '1', End: ';'}})
	assert.ErrorIs(t, err, frame.ErrInvalidMarkers)
}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	p, err := New(chunks(nil, "$1 2;"), dispatch.New(dispatch.Config{}), Config{})
	require.NoError(t, err)
	assert.Equal(t, frame.DefaultMarkers(), p.Markers())
	assert.Equal(t, DefaultQueueDepth, p.cfg.QueueDepth)
	assert.Equal(t, RawAll, p.RawMode())
}

func TestParseRawMode(t *testing.T) {
	m, err := ParseRawMode("Filtered")
	require.NoError(t, err)
	assert.Equal(t, RawFiltered, m)

	m, err = ParseRawMode("")
	require.NoError(t, err)
	assert.Equal(t, RawAll, m)

	_, err = ParseRawMode("hex")
	assert.Error(t, err)
}
