package dispatch

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/frame"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

// pipe feeds raw bytes through a parser straight into d and returns the batches.
func pipe(t *testing.T, d *Dispatcher, input string) []Batch {
	t.Helper()
	var out []Batch
	p, err := frame.NewParser(frame.DefaultMarkers(), frame.WithHandler(func(f frame.Frame) {
		out = append(out, d.Dispatch(f.Tokens()))
	}))
	require.NoError(t, err)
	_, _ = p.Write([]byte(input))
	return out
}

func TestDispatch_TwoFrameScenario(t *testing.T) {
	d := New(Config{})
	got := pipe(t, d, "$1 2 3;$4 5 6;")

	want := []Batch{
		{Index: 0, Values: map[channel.ID]float64{0: 1, 1: 2, 2: 3}},
		{Index: 1, Values: map[channel.ID]float64{0: 4, 1: 5, 2: 6}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, d.Channels(), 3)
	assert.Equal(t, uint64(2), d.Index())

	s, err := d.Samples(1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []channel.Sample{{Index: 0, Value: 2}, {Index: 1, Value: 5}}, s)
}

func TestDispatch_RoundTrip(t *testing.T) {
	values := []float64{0, -1.5, 3.25, 1000000, 0.001, -42}
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	d := New(Config{})
	got := pipe(t, d, "$"+strings.Join(fields, " ")+";")

	require.Len(t, got, 1)
	assert.Equal(t, uint64(0), got[0].Index)
	require.Len(t, got[0].Values, len(values))
	for i, v := range values {
		assert.Equal(t, v, got[0].Values[channel.ID(i)], "field %d", i)
	}
}

func TestDispatch_SkipPolicy(t *testing.T) {
	d := New(Config{Policy: SkipField})
	b := d.Dispatch([]string{"10", "abc", "30"})

	assert.Equal(t, uint64(0), b.Index)
	assert.Equal(t, map[channel.ID]float64{0: 10, 2: 30}, b.Values)
	_, ok := b.Value(1)
	assert.False(t, ok)

	// the failed field still claims its channel identity
	assert.Len(t, d.Channels(), 3)
	s, err := d.Samples(1, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, s)
	assert.Equal(t, uint64(1), d.Stats().Rejected)
}

func TestDispatch_SkipPolicyThroughParser(t *testing.T) {
	// letters never survive the parser, so a malformed number stands in for "abc"
	d := New(Config{})
	got := pipe(t, d, "$10 1-2 30;")

	require.Len(t, got, 1)
	assert.Equal(t, map[channel.ID]float64{0: 10, 2: 30}, got[0].Values)
}

func TestDispatch_NaNPolicy(t *testing.T) {
	d := New(Config{Policy: SubstituteNaN})
	b := d.Dispatch([]string{"10", "abc", "30"})

	require.Len(t, b.Values, 3)
	assert.True(t, math.IsNaN(b.Values[1]))

	s, err := d.Samples(1, 0, 0)
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.True(t, math.IsNaN(s[0].Value))
}

func TestDispatch_OutOfRangeKeepsInf(t *testing.T) {
	d := New(Config{Policy: SkipField})
	huge := strings.Repeat("9", 400)
	b := d.Dispatch([]string{huge, "-" + huge, "1"})

	require.Len(t, b.Values, 3)
	assert.True(t, math.IsInf(b.Values[0], 1))
	assert.True(t, math.IsInf(b.Values[1], -1))
	assert.Equal(t, uint64(0), d.Stats().Rejected)
}

func TestDispatch_EmptyFrameStillCycles(t *testing.T) {
	d := New(Config{})
	got := pipe(t, d, "$;$5;")

	require.Len(t, got, 2)
	assert.Empty(t, got[0].Values)
	assert.Equal(t, uint64(1), got[1].Index)
}

func TestDispatch_MonotonicChannelGrowth(t *testing.T) {
	d := New(Config{})
	var added []channel.ID
	d.OnChannelAdded(func(c channel.Channel) { added = append(added, c.ID) })

	counts := []int{}
	for _, in := range []string{"$1 2;", "$1 2 3;", "$1 2 3;", "$1;"} {
		pipe(t, d, in)
		counts = append(counts, len(d.Channels()))
	}
	assert.Equal(t, []int{2, 3, 3, 3}, counts)
	assert.Equal(t, []channel.ID{0, 1, 2}, added)

	for i, ch := range d.Channels() {
		assert.Equal(t, channel.ID(i), ch.ID)
	}
}

func TestDispatch_ResetIdempotent(t *testing.T) {
	d := New(Config{})
	resets := 0
	d.OnReset(func() { resets++ })
	pipe(t, d, "$1 2;$3 4;")

	d.Reset()
	once := d.Window(0)
	d.Reset()
	twice := d.Window(0)

	assert.Equal(t, 2, resets)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second reset changed state (-once +twice):\n%s", diff)
	}
	assert.Equal(t, uint64(0), d.Index())
	assert.Empty(t, d.Channels())

	got := pipe(t, d, "$7;")
	assert.Equal(t, uint64(0), got[0].Index)
}

func TestDispatch_RenameAndVisibility(t *testing.T) {
	d := New(Config{Names: map[channel.ID]string{0: "speed"}})
	d.Dispatch([]string{"1", "2"})

	require.NoError(t, d.RenameChannel(1, "accel"))
	require.NoError(t, d.SetChannelVisible(0, false))
	assert.ErrorIs(t, d.RenameChannel(4, "x"), channel.ErrUnknownChannel)

	chans := d.Channels()
	assert.Equal(t, "speed", chans[0].Name)
	assert.False(t, chans[0].Visible)
	assert.Equal(t, "accel", chans[1].Name)

	// visibility does not affect retention
	d.Dispatch([]string{"3", "4"})
	s, _ := d.Samples(0, 0, 10)
	assert.Len(t, s, 2)

	d.ShowAll()
	assert.True(t, d.Channels()[0].Visible)

	d.PresetName(2, "jerk")
	d.Dispatch([]string{"1", "2", "3"})
	assert.Equal(t, "jerk", d.Channels()[2].Name)
}

func TestDispatch_Capacity(t *testing.T) {
	m := monitoring.NewMetrics()
	d := New(Config{BufferCapacity: 2, Metrics: m})

	var evicted int
	for i := 0; i < 5; i++ {
		evicted += d.Dispatch([]string{"1", "2"}).Evicted
	}
	assert.Equal(t, 6, evicted)
	assert.Equal(t, uint64(6), d.Stats().Evicted)

	s, _ := d.Samples(0, 0, 100)
	assert.Equal(t, []uint64{3, 4}, []uint64{s[0].Index, s[1].Index})
}

func TestDispatch_Window(t *testing.T) {
	d := New(Config{})
	for i := 0; i < 10; i++ {
		d.Dispatch([]string{strconv.Itoa(i)})
	}

	w := d.Window(3)
	assert.Equal(t, uint64(7), w.From)
	assert.Equal(t, uint64(9), w.To)
	require.Len(t, w.Series, 1)
	assert.Len(t, w.Series[0].Samples, 3)

	empty := New(Config{}).Window(5)
	assert.Empty(t, empty.Series)
}

func TestDispatch_SubscribeReceivesBatches(t *testing.T) {
	d := New(Config{})
	id, ch := d.Subscribe()

	d.Dispatch([]string{"1"})
	d.Dispatch([]string{"2"})

	b1 := <-ch
	b2 := <-ch
	assert.Equal(t, uint64(0), b1.Index)
	assert.Equal(t, uint64(1), b2.Index)

	d.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestDispatch_SlowSinkDoesNotBlock(t *testing.T) {
	d := New(Config{SinkBuffer: 1})
	_, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Dispatch([]string{"1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(99), d.Stats().SinkDrops)
}

func TestDispatch_ConcurrentCyclesAreSerialised(t *testing.T) {
	d := New(Config{SinkBuffer: 10000})
	_, ch := d.Subscribe()

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := fmt.Sprint(w)
				d.Dispatch([]string{v, v, v})
			}
		}(w)
	}
	wg.Wait()

	total := workers * perWorker
	assert.Equal(t, uint64(total), d.Index())

	// notifications arrive in index order and each frame stays intact
	for i := 0; i < total; i++ {
		b := <-ch
		require.Equal(t, uint64(i), b.Index)
		require.Len(t, b.Values, 3)
		assert.Equal(t, b.Values[0], b.Values[2])
	}

	for id := channel.ID(0); id < 3; id++ {
		s, err := d.Samples(id, 0, uint64(total))
		require.NoError(t, err)
		require.Len(t, s, total)
		for i := range s {
			require.Equal(t, uint64(i), s[i].Index)
		}
	}
}

func TestDispatch_Run(t *testing.T) {
	d := New(Config{})
	frames := make(chan frame.Frame, 3)
	frames <- frame.Frame{Text: "1 2"}
	frames <- frame.Frame{Text: "3 4"}
	close(frames)

	require.NoError(t, d.Run(context.Background(), frames))
	assert.Equal(t, uint64(2), d.Index())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx, make(chan frame.Frame)), context.Canceled)
}

func TestDispatch_CloseClosesSubscribers(t *testing.T) {
	d := New(Config{})
	_, ch := d.Subscribe()
	d.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, late := d.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")

	// buffers remain readable after close
	d.Dispatch([]string{"1"})
	assert.Equal(t, uint64(1), d.Index())
}

func TestBatch_IDs(t *testing.T) {
	b := Batch{Values: map[channel.ID]float64{2: 1, 0: 1, 5: 1}}
	assert.Equal(t, []channel.ID{0, 2, 5}, b.IDs())
}

func TestParsePolicyFromString(t *testing.T) {
	p, err := ParsePolicyFromString("NaN")
	require.NoError(t, err)
	assert.Equal(t, SubstituteNaN, p)

	p, err = ParsePolicyFromString("")
	require.NoError(t, err)
	assert.Equal(t, SkipField, p)

	_, err = ParsePolicyFromString("zero")
	assert.Error(t, err)

	assert.Equal(t, "skip", SkipField.String())
	assert.Equal(t, "nan", SubstituteNaN.String())
}
