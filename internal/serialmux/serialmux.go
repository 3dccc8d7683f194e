// Package serialmux multiplexes a single line-oriented serial port: any number
// of subscribers receive every line the device prints, while commands are
// written one at a time. Exec pairs a command with the device's "ok" or
// "error" reply for request/response firmware such as the scanner board.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	// ErrClosed is returned once the mux has been closed.
	ErrClosed = errors.New("serial mux closed")
	// ErrReplyTimeout is returned when the device does not answer a command.
	ErrReplyTimeout = errors.New("timed out waiting for reply")
	// ErrCommandRejected wraps an "error" reply from the device.
	ErrCommandRejected = errors.New("command rejected by device")
)

// subscriberBuffer is the per-subscriber line backlog. Lines beyond it are
// dropped for that subscriber rather than stalling the reader.
const subscriberBuffer = 32

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to events from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	execMu       sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Exec writes a command and waits for the device to acknowledge it.
	Exec(ctx context.Context, command string, timeout time.Duration) (string, error)
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new line subscriber. After Close it returns an
// already closed channel so callers never block.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Exec sends command and waits up to timeout for its acknowledgement. Lines
// that are neither "ok" nor "error" replies are skipped. Exec calls are
// serialised so each reply is attributed to the command that caused it.
// Monitor must be running for replies to arrive.
func (s *SerialMux[T]) Exec(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	if err := s.SendCommand(command); err != nil {
		return "", fmt.Errorf("send %q: %w", command, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return "", ErrClosed
			}
			switch ClassifyReply(line) {
			case ReplyOK:
				return line, nil
			case ReplyError:
				return line, fmt.Errorf("%w: %q: %s", ErrCommandRejected, command, line)
			}
		case <-timer.C:
			return "", fmt.Errorf("%w: %q after %s", ErrReplyTimeout, command, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Monitor monitors the serial port for events and sends them to subscribers
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop can
	// still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- strings.TrimRight(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if s.isClosing() {
				return nil
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// subscriber is full; skip so as not to block the outer loop
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// Close closes every subscriber and the underlying port. Further calls are
// no-ops.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

const sendCommandPage = `<!DOCTYPE html>
<html><head><title>Scanner board console</title></head>
<body>
<h1>Scanner board console</h1>
<form id="cmd"><input name="command" placeholder="M17" autofocus> <button>Send</button></form>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
new EventSource("tail").onmessage = (e) => { log.textContent += e.data + "\n"; };
document.getElementById("cmd").onsubmit = async (e) => {
  e.preventDefault();
  const body = new FormData(e.target);
  const res = await fetch("send-command-api", {method: "POST", body: new URLSearchParams(body)});
  log.textContent += "> " + (await res.text()) + "\n";
  e.target.reset();
};
</script>
</body></html>
`

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail console using the two endpoints below.
	debug.HandleFunc("send-command", "send a G-code command to the scanner board", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, sendCommandPage)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", command)
	})

	// Server-Sent Events stream of lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
