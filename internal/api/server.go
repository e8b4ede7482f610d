// Package api serves the channel table, sample windows and live streams over
// HTTP.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/serialscope/internal/db"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/export"
	"github.com/banshee-data/serialscope/internal/fsutil"
	"github.com/banshee-data/serialscope/internal/monitoring"
	"github.com/banshee-data/serialscope/internal/pipeline"
	"github.com/banshee-data/serialscope/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultWindow is the number of sample indices served when a request does
// not ask for a window.
const DefaultWindow = 1000

// Options wires a Server to the running components. Only Dispatcher is
// required; routes for nil components are not registered.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Pipeline   *pipeline.Pipeline
	Serial     serialmux.SerialMuxInterface
	Recorder   *export.StreamRecorder
	DB         *db.DB
	Metrics    *monitoring.Metrics
	ExportDir  string
	Window     int
	// ListPorts enumerates serial devices. Defaults to serialmux.ListPorts.
	ListPorts func() ([]string, error)
}

type Server struct {
	disp      *dispatch.Dispatcher
	pipe      *pipeline.Pipeline
	serial    serialmux.SerialMuxInterface
	recorder  *export.StreamRecorder
	db        *db.DB
	metrics   *monitoring.Metrics
	exportDir string
	fs        fsutil.FileSystem
	window    int
	listPorts func() ([]string, error)
}

func NewServer(opts Options) *Server {
	s := &Server{
		disp:      opts.Dispatcher,
		pipe:      opts.Pipeline,
		serial:    opts.Serial,
		recorder:  opts.Recorder,
		db:        opts.DB,
		metrics:   opts.Metrics,
		exportDir: opts.ExportDir,
		fs:        fsutil.OSFileSystem{},
		window:    opts.Window,
		listPorts: opts.ListPorts,
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.exportDir == "" {
		s.exportDir = "."
	}
	if s.listPorts == nil {
		s.listPorts = serialmux.ListPorts
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Hijack lets websocket upgrades pass through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 100 && statusCode < 200:
		return colorCyan + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/channels", s.listChannels)
	mux.HandleFunc("POST /api/channels/{id}/name", s.renameChannel)
	mux.HandleFunc("POST /api/channels/{id}/visible", s.setChannelVisible)
	mux.HandleFunc("POST /api/channels/show-all", s.showAll)
	mux.HandleFunc("POST /api/reset", s.reset)
	mux.HandleFunc("GET /api/samples", s.samples)
	mux.HandleFunc("GET /api/window", s.windowHandler)
	mux.HandleFunc("GET /api/summary", s.summary)
	mux.HandleFunc("GET /api/stats", s.stats)
	mux.HandleFunc("GET /api/ports", s.ports)
	mux.HandleFunc("GET /api/version", s.versionHandler)
	mux.HandleFunc("GET /api/export.png", s.exportPNG)
	mux.HandleFunc("POST /api/export/png", s.savePNG)
	mux.HandleFunc("GET /api/exports", s.listExports)
	mux.HandleFunc("GET /api/exports/{name}", s.downloadExport)
	mux.HandleFunc("GET /api/stream", s.streamBatches)
	mux.HandleFunc("GET /chart", s.chart)

	if s.pipe != nil {
		mux.HandleFunc("POST /api/pause", s.pause)
		mux.HandleFunc("POST /api/resume", s.resume)
		mux.HandleFunc("GET /api/raw-mode", s.getRawMode)
		mux.HandleFunc("POST /api/raw-mode", s.setRawMode)
		mux.HandleFunc("GET /api/raw", s.streamRaw)
	}
	if s.serial != nil {
		mux.HandleFunc("POST /api/command", s.sendCommand)
	}
	if s.recorder != nil {
		mux.HandleFunc("GET /api/record", s.recordStatus)
		mux.HandleFunc("POST /api/record/start", s.recordStart)
		mux.HandleFunc("POST /api/record/stop", s.recordStop)
	}
	if s.db != nil {
		mux.HandleFunc("GET /api/sessions", s.listSessions)
		mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
		mux.HandleFunc("DELETE /api/sessions/{id}", s.deleteSession)
		mux.HandleFunc("GET /api/sessions/{id}/samples", s.sessionSamples)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}
