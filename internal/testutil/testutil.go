// Package testutil provides shared test helpers.
package testutil

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/monitoring"
)

// WaitTimeout bounds every wait helper.
const WaitTimeout = 2 * time.Second

// QuietLogs mutes monitoring.Logf until the test ends.
func QuietLogs(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })
	monitoring.SetLogger(nil)
}

// CaptureLogs redirects monitoring.Logf into the returned channel until the
// test ends. Lines are dropped once the buffer of n is full.
func CaptureLogs(t testing.TB, n int) <-chan string {
	t.Helper()
	prev := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = prev })
	lines := make(chan string, n)
	monitoring.SetLogger(func(format string, v ...interface{}) {
		select {
		case lines <- fmt.Sprintf(format, v...):
		default:
		}
	})
	return lines
}

// WriteFile writes content to name inside a fresh temp dir and returns the
// full path.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// WaitFor polls cond until it holds, failing the test after WaitTimeout.
func WaitFor(t testing.TB, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, WaitTimeout, time.Millisecond, msg)
}

// WaitForSubscribers blocks until d has n subscribers.
func WaitForSubscribers(t testing.TB, d *dispatch.Dispatcher, n int) {
	t.Helper()
	WaitFor(t, func() bool { return d.Stats().Subscribers == n }, "dispatcher subscribers")
}

// RequireStatus fails the test when w has a different status, printing the
// body.
func RequireStatus(t testing.TB, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, w.Body.String())
}
