package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/fsutil"
	"github.com/banshee-data/serialscope/internal/monitoring"
	"github.com/banshee-data/serialscope/internal/timeutil"
)

// ErrNotRecording is returned by Stop when no recording is active.
var ErrNotRecording = errors.New("not recording")

// ErrAlreadyRecording is returned by Start when a recording is active.
var ErrAlreadyRecording = errors.New("already recording")

const flushInterval = time.Second

// StreamFileName names a recording started at t, e.g.
// 2024-03-7-14-05-09-data-out.csv.
func StreamFileName(t time.Time) string {
	return t.Format("2006-01-2-15-04-05-") + "data-out.csv"
}

// BatchSubscriber is the sink side of a dispatcher.
type BatchSubscriber interface {
	Subscribe() (string, <-chan dispatch.Batch)
	Unsubscribe(id string)
}

// CSVWriter writes one row per batch: the sample index followed by the
// value of every channel up to the highest one present. Channels missing
// from the batch leave an empty cell; NaN is written as "NaN".
type CSVWriter struct {
	w *csv.Writer
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write appends b as one row.
func (c *CSVWriter) Write(b dispatch.Batch) error {
	ids := b.IDs()
	width := 0
	if len(ids) > 0 {
		width = int(ids[len(ids)-1]) + 1
	}
	row := make([]string, width+1)
	row[0] = strconv.FormatUint(b.Index, 10)
	for _, id := range ids {
		row[int(id)+1] = strconv.FormatFloat(b.Values[id], 'g', -1, 64)
	}
	return c.w.Write(row)
}

// Flush writes buffered rows to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// StreamRecorder records every dispatched batch to a timestamped CSV file in
// dir while started.
type StreamRecorder struct {
	src   BatchSubscriber
	dir   string
	fs    fsutil.FileSystem
	clock timeutil.Clock

	mu   sync.Mutex
	path string
	id   string
	done chan error
}

// RecorderOption configures a StreamRecorder.
type RecorderOption func(*StreamRecorder)

// WithFileSystem writes recordings through fsys instead of the OS.
func WithFileSystem(fsys fsutil.FileSystem) RecorderOption {
	return func(s *StreamRecorder) { s.fs = fsys }
}

// WithClock names files and paces flushes using c.
func WithClock(c timeutil.Clock) RecorderOption {
	return func(s *StreamRecorder) { s.clock = c }
}

func NewStreamRecorder(src BatchSubscriber, dir string, opts ...RecorderOption) *StreamRecorder {
	s := &StreamRecorder{src: src, dir: dir, fs: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new file and begins recording. It returns the file path.
func (s *StreamRecorder) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return "", ErrAlreadyRecording
	}

	if err := s.fs.MkdirAll(s.dir); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(s.dir, StreamFileName(s.clock.Now()))
	f, err := s.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create stream file: %w", err)
	}

	id, batches := s.src.Subscribe()
	ticker := s.clock.NewTicker(flushInterval)
	done := make(chan error, 1)
	go func() {
		err := record(f, batches, ticker.C())
		ticker.Stop()
		done <- err
	}()

	s.path, s.id, s.done = path, id, done
	monitoring.Logf("recording stream to %s", path)
	return path, nil
}

// record drains batches into f until the channel closes, flushing on every
// tick.
func record(f io.WriteCloser, batches <-chan dispatch.Batch, tick <-chan time.Time) error {
	w := NewCSVWriter(f)

	var werr error
	for {
		select {
		case b, ok := <-batches:
			if !ok {
				if err := w.Flush(); err != nil && werr == nil {
					werr = err
				}
				if err := f.Close(); err != nil && werr == nil {
					werr = err
				}
				return werr
			}
			if werr == nil {
				werr = w.Write(b)
			}
		case <-tick:
			if werr == nil {
				werr = w.Flush()
			}
		}
	}
}

// Stop ends the recording and closes the file.
func (s *StreamRecorder) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return ErrNotRecording
	}
	s.src.Unsubscribe(s.id)
	err := <-s.done
	monitoring.Logf("stopped recording stream to %s", s.path)
	s.path, s.id, s.done = "", "", nil
	if err != nil {
		return fmt.Errorf("failed to write stream file: %w", err)
	}
	return nil
}

// Recording returns the active file path, if any.
func (s *StreamRecorder) Recording() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.done != nil
}
