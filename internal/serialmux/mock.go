package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for
// tests. Reads block until data is queued or the port is closed, like a real
// port without a read timeout.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// Responder, when set, is called with every complete line written to the
	// port. A non-empty return value is queued for reading, newline added.
	Responder func(line string) string

	pending  string
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

// NewOKSerialPort returns a port that acknowledges every line with "ok".
func NewOKSerialPort() *TestableSerialPort {
	p := NewTestableSerialPort()
	p.Responder = func(string) string { return "ok" }
	return p
}

// Read reads from the read buffer, blocking while it is empty.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if t.Closed {
			return 0, ErrPortClosed
		}
		if t.ReadError != nil {
			err := t.ReadError
			t.ReadError = nil
			return 0, err
		}
		if t.ReadBuffer.Len() > 0 {
			return t.ReadBuffer.Read(p)
		}
		t.readCond.Wait()
	}
}

// Write writes to the write buffer, optionally simulating latency and errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}

	n, err = t.WriteBuffer.Write(p)
	if t.Responder != nil {
		t.pending += string(p)
		for {
			i := strings.IndexByte(t.pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimRight(t.pending[:i], "\r")
			t.pending = t.pending[i+1:]
			if reply := t.Responder(line); reply != "" {
				t.ReadBuffer.WriteString(reply + "\n")
			}
		}
		t.readCond.Broadcast()
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// SetReadError makes the next Read fail with err.
func (t *TestableSerialPort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// SetWriteError makes the next Write fail with err.
func (t *TestableSerialPort) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteError = err
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// WrittenLines returns the written data split into lines.
func (t *TestableSerialPort) WrittenLines() []string {
	data := strings.TrimRight(string(t.GetWrittenData()), "\n")
	if data == "" {
		return nil
	}
	return strings.Split(data, "\n")
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.Closed
}
