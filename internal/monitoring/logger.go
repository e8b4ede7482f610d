package monitoring

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = newConsoleLogger(os.Stderr)
)

func newConsoleLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Logf is the package-level diagnostic logger. It defaults to an info-level
// zerolog console writer but may be replaced by SetLogger. Tests or
// production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	l := Logger()
	l.Info().Msg(fmt.Sprintf(format, v...))
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Logger returns the structured logger used for fields-bearing events.
func Logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetOutput points the structured logger at w with the given level. A JSON
// writer is used when json is true, the console writer otherwise.
func SetOutput(w io.Writer, level zerolog.Level, json bool) {
	l := newConsoleLogger(w)
	if json {
		l = zerolog.New(w).With().Timestamp().Logger()
	}
	loggerMu.Lock()
	logger = l.Level(level)
	loggerMu.Unlock()
}
