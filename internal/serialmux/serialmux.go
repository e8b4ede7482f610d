// Package serialmux owns the serial port. Every byte read goes first to a
// single lossless consumer (the frame parser); any number of tail clients
// may watch the same bytes on a best-effort basis, and commands can be
// written back to the device.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// readBufferSize is the chunk size of a single port read.
const readBufferSize = 4096

// SerialMuxInterface is what the rest of the program needs from a byte
// source: real port, replayed fixture or disabled.
type SerialMuxInterface interface {
	// Subscribe returns a channel of raw chunks and the id to pass to
	// Unsubscribe. Slow subscribers miss chunks.
	Subscribe() (string, chan []byte)
	// Unsubscribe closes and forgets the channel.
	Unsubscribe(string)
	// SendCommand writes one newline-terminated command to the device.
	SendCommand(string) error
	// Monitor reads until ctx is done or the port ends, passing every chunk
	// to handle before mirroring it to subscribers.
	Monitor(ctx context.Context, handle func([]byte)) error
	// Close closes subscribers and the port.
	Close() error

	// AttachAdminRoutes mounts the /debug/ command and tail pages.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux multiplexes one port of type T.
type SerialMux[T SerialPorter] struct {
	port      T
	tails     tails
	commandMu sync.Mutex
}

func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port}
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	return s.tails.subscribe(subscriberBuffer)
}

func (s *SerialMux[T]) Unsubscribe(id string) { s.tails.unsubscribe(id) }

// SendCommand appends a newline if missing. Concurrent commands never
// interleave on the wire.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor returns ctx.Err() on cancellation, nil on EOF or Close, and the
// read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context, handle func([]byte)) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	// Read blocks, so it runs apart from the loop that watches ctx.
	go func() {
		defer close(chunks)
		buf := make([]byte, readBufferSize)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
			// n == 0 with no error is a read timeout
			if n == 0 && ctx.Err() != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					if s.tails.isClosed() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.tails.isClosed() {
				return nil
			}
			if handle != nil {
				handle(chunk)
			}
			s.tails.offer(chunk)
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.tails.shutdown()
	return s.port.Close()
}
