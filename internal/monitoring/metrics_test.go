package monitoring

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Add(Batches, 1)
		m.SinkDrop("api")
		m.SetChannels(3)
		m.ObserveDispatch(0.1)
	})
	assert.Nil(t, m.Registry())
	assert.Nil(t, m.Counter(Batches))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.Add(FramesParsed, 2)
	m.Add(FramesParsed, 0)
	m.Add(FramesParsed, -1)
	m.SinkDrop("ws")
	m.SetChannels(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Counter(FramesParsed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkDrops("ws")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.channels))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Add(Batches, 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "serialscope_dispatch_batches_total 5"))
}
