package monitoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, zerolog.InfoLevel, true)
	defer SetOutput(nilWriter{}, zerolog.InfoLevel, false)

	original := Logf
	defer func() { Logf = original }()
	Logf = func(format string, v ...interface{}) {
		l := Logger()
		l.Info().Msgf(format, v...)
	}

	Logf("frames=%d", 3)
	if !strings.Contains(buf.String(), `"message":"frames=3"`) {
		t.Errorf("unexpected log output: %q", buf.String())
	}
}

func TestSetOutput_Level(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, zerolog.WarnLevel, true)
	defer SetOutput(nilWriter{}, zerolog.InfoLevel, false)

	l := Logger()
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }
