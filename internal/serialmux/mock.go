package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort once Close has been called.
var ErrPortClosed = errors.New("serial port closed")

// MockSerialPort replays a fixture as if a device were streaming it.
type MockSerialPort struct {
	io.Reader
	io.Writer

	stop     chan struct{}
	stopOnce sync.Once
}

func (m *MockSerialPort) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// NewMockSerialMux creates a SerialMux instance backed by a mock serial port
// that writes fixture every interval until closed. Commands sent to the port
// are discarded.
func NewMockSerialMux(fixture []byte, interval time.Duration) *SerialMux[*MockSerialPort] {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		Reader: r,
		Writer: io.Discard,
		stop:   make(chan struct{}),
	}

	// generate data periodically to simulate serial port input
	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-mockPort.stop:
				return
			case <-ticker.C:
				if _, err := w.Write(fixture); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// Once the read buffer is drained Read returns io.EOF unless BlockReads is set.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ChunkSize caps the bytes returned by a single Read, splitting frames
	// across reads the way a real UART does. Zero means unlimited.
	ChunkSize int

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested
	ShortWrite bool

	// Closed indicates whether Close was called
	Closed bool

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	if t.ChunkSize > 0 && len(p) > t.ChunkSize {
		p = p[:t.ChunkSize]
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// MockOpener returns a PortOpener that hands out port and records the last
// path and options it was called with.
type MockOpener struct {
	mu       sync.Mutex
	Port     SerialPorter
	Error    error
	LastPath string
	LastOpts PortOptions
	Calls    int
}

// Open satisfies PortOpener.
func (m *MockOpener) Open(path string, opts PortOptions) (SerialPorter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.LastPath = path
	m.LastOpts = opts
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Port, nil
}
