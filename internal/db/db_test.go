package db

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/testutil"
	"github.com/banshee-data/serialscope/internal/timeutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var testMeta = SessionMeta{Source: "/dev/ttyUSB0", StartMarker: '$', EndMarker: ';', ParsePolicy: "skip"}

func TestNewDB_Migrates(t *testing.T) {
	db := newTestDB(t)

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateTo(1))
	version, err = db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp(), "second MigrateUp is a no-op")
	version, err = db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestSessions_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := db.StartSession(ctx, testMeta)
	require.NoError(t, err)
	assert.Len(t, s.ID, 36)

	got, err := db.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "$", got.StartMarker)
	assert.Equal(t, ";", got.EndMarker)
	assert.Nil(t, got.EndedAt)

	require.NoError(t, db.EndSession(ctx, s.ID))
	assert.ErrorIs(t, db.EndSession(ctx, s.ID), ErrSessionNotFound, "already ended")

	got, err = db.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt)

	all, err := db.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, db.DeleteSession(ctx, s.ID))
	_, err = db.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, db.DeleteSession(ctx, s.ID), ErrSessionNotFound)
}

// startRecorder runs a recorder over d and returns a function that closes the
// dispatcher and waits for the recorder to finish.
func startRecorder(t *testing.T, db *DB, d *dispatch.Dispatcher) (*Recorder, func()) {
	t.Helper()
	r := NewRecorder(db, d, testMeta)
	r.flushInterval = 10 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	testutil.WaitForSubscribers(t, d, 1)

	return r, func() {
		d.Close()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("recorder did not stop")
		}
	}
}

func TestRecorder_PersistsBatches(t *testing.T) {
	db := newTestDB(t)
	d := dispatch.New(dispatch.Config{Policy: dispatch.SubstituteNaN})
	d.PresetName(1, "pressure")
	_, stop := startRecorder(t, db, d)

	d.Dispatch([]string{"1", "2"})
	d.Dispatch([]string{"3", "x"})
	d.Dispatch([]string{"5", "6", "7"})
	stop()

	ctx := context.Background()
	sessions, err := db.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, int64(3), s.Batches)
	assert.NotNil(t, s.EndedAt)

	samples, err := db.SessionSamples(ctx, s.ID, 1, 0, math.MaxUint64)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 2.0, samples[0].Value)
	assert.True(t, math.IsNaN(samples[1].Value))
	assert.Equal(t, uint64(2), samples[2].Index)

	channels, err := db.SessionChannels(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, "pressure", channels[1].Name)
	assert.Equal(t, channel.DefaultPalette()[2], channels[2].Color)
}

func TestRecorder_ResetStartsNewSession(t *testing.T) {
	db := newTestDB(t)
	d := dispatch.New(dispatch.Config{})
	_, stop := startRecorder(t, db, d)

	d.Dispatch([]string{"1"})
	d.Dispatch([]string{"2"})
	d.Reset()
	d.Dispatch([]string{"9"})
	stop()

	ctx := context.Background()
	sessions, err := db.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	var total int64
	for _, s := range sessions {
		assert.NotNil(t, s.EndedAt)
		total += s.Batches
	}
	assert.Equal(t, int64(3), total)
}

func TestRecorder_ResetKeepsOldChannelNames(t *testing.T) {
	db := newTestDB(t)
	d := dispatch.New(dispatch.Config{})
	_, stop := startRecorder(t, db, d)

	ctx := context.Background()
	d.Dispatch([]string{"1"})
	require.NoError(t, d.RenameChannel(0, "pressure"))
	testutil.WaitFor(t, func() bool {
		sessions, err := db.Sessions(ctx)
		if err != nil || len(sessions) != 1 {
			return false
		}
		channels, err := db.SessionChannels(ctx, sessions[0].ID)
		return err == nil && len(channels) == 1 && channels[0].Name == "pressure"
	}, "first session channels")

	d.Dispatch([]string{"2"})
	d.Reset()
	d.Dispatch([]string{"9"})
	stop()

	sessions, err := db.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	names := map[int64][]string{}
	for _, s := range sessions {
		channels, err := db.SessionChannels(ctx, s.ID)
		require.NoError(t, err)
		for _, c := range channels {
			names[s.Batches] = append(names[s.Batches], c.Name)
		}
	}
	if diff := cmp.Diff(map[int64][]string{2: {"pressure"}, 1: {"Channel 0"}}, names); diff != "" {
		t.Errorf("channel names by session batch count (-want +got):\n%s", diff)
	}
}

func TestRecorder_NothingRecordedWithoutBatches(t *testing.T) {
	db := newTestDB(t)
	d := dispatch.New(dispatch.Config{})
	_, stop := startRecorder(t, db, d)
	stop()

	sessions, err := db.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRecorder_FlushesOnTick(t *testing.T) {
	db := newTestDB(t)
	d := dispatch.New(dispatch.Config{})
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRecorder(db, d, testMeta).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	testutil.WaitFor(t, func() bool { return clock.Tickers() == 1 }, "recorder ticker")

	d.Dispatch([]string{"4"})
	require.Eventually(t, func() bool {
		clock.Advance(DefaultFlushInterval)
		sessions, err := db.Sessions(context.Background())
		return err == nil && len(sessions) == 1 && sessions[0].Batches == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	sessions, err := db.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].EndedAt)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Positive(t, w.Body.Len())

	req = httptest.NewRequest(http.MethodGet, "/debug/schema", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "schema version 2\n", w.Body.String())
}
