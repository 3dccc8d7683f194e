// Package device drives the scanner board: the turntable stepper motor and
// the two line lasers, over a G-code dialect on a serial link.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/serialmux"
)

var (
	// ErrDevice wraps every failure talking to the board.
	ErrDevice = errors.New("device error")
	// ErrNotConnected is returned by commands issued before Connect.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrDevice)
)

// DefaultCommandTimeout bounds the wait for each command's acknowledgement.
const DefaultCommandTimeout = 2 * time.Second

// Opener opens the serial link to the board.
type Opener func() (serialmux.SerialMuxInterface, error)

// SerialOpener opens a real serial port at path.
func SerialOpener(path string, opts serialmux.PortOptions) Opener {
	return func() (serialmux.SerialMuxInterface, error) {
		return serialmux.NewRealSerialMux(path, opts)
	}
}

// Board is the scanner board. Its methods are safe for concurrent use, but
// the board executes one command at a time.
type Board struct {
	open    Opener
	timeout time.Duration

	mu       sync.Mutex
	mux      serialmux.SerialMuxInterface
	cancel   context.CancelFunc
	ctx      context.Context
	monitor  chan struct{}
	console  *http.ServeMux
	position float64 // absolute turntable target in degrees
	pending  float64 // relative move not yet committed
	lasers   [2]bool
	enabled  bool
}

// NewBoard returns a board that connects through open. A non-positive
// timeout selects DefaultCommandTimeout.
func NewBoard(open Opener, timeout time.Duration) *Board {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Board{open: open, timeout: timeout}
}

// Connect opens the link, starts reading replies and puts the board in a
// known state (motor disabled, both lasers off). Connecting an already
// connected board is a no-op.
func (b *Board) Connect() error {
	b.mu.Lock()
	if b.mux != nil {
		b.mu.Unlock()
		return nil
	}
	mux, err := b.open()
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: open: %v", ErrDevice, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("device: serial monitor stopped: %v", err)
		}
	}()
	console := http.NewServeMux()
	mux.AttachAdminRoutes(console)
	b.mux, b.ctx, b.cancel, b.monitor, b.console = mux, ctx, cancel, done, console
	b.position, b.pending = 0, 0
	b.mu.Unlock()

	for _, step := range []func() error{
		b.Disable,
		func() error { return b.SetLaserOff(calibration.LeftLaser) },
		func() error { return b.SetLaserOff(calibration.RightLaser) },
	} {
		if err := step(); err != nil {
			b.Disconnect()
			return err
		}
	}
	monitoring.Logf("device: board connected")
	return nil
}

// Disconnect closes the link. It does not touch the hardware; callers that
// need a safe state call Disable and SetLaserOff first.
func (b *Board) Disconnect() error {
	b.mu.Lock()
	mux, cancel, done := b.mux, b.cancel, b.monitor
	b.mux, b.cancel, b.ctx, b.monitor, b.console = nil, nil, nil, nil, nil
	b.lasers = [2]bool{}
	b.enabled = false
	b.mu.Unlock()
	if mux == nil {
		return nil
	}

	cancel()
	err := mux.Close()
	<-done
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrDevice, err)
	}
	return nil
}

// Connected reports whether the link is open.
func (b *Board) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mux != nil
}

func (b *Board) exec(command string) error {
	b.mu.Lock()
	mux, ctx := b.mux, b.ctx
	b.mu.Unlock()
	if mux == nil {
		return ErrNotConnected
	}
	monitoring.Debugf("device: > %s", command)
	if _, err := mux.Exec(ctx, command, b.timeout); err != nil {
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return nil
}

// laserIndex maps a side to the board's tool number.
func laserIndex(side calibration.Side) (int, error) {
	switch side {
	case calibration.LeftLaser:
		return 1, nil
	case calibration.RightLaser:
		return 2, nil
	}
	return 0, fmt.Errorf("%w: unknown laser %v", ErrDevice, side)
}

// SetLaserOn switches one laser on.
func (b *Board) SetLaserOn(side calibration.Side) error {
	return b.setLaser(side, true)
}

// SetLaserOff switches one laser off.
func (b *Board) SetLaserOff(side calibration.Side) error {
	return b.setLaser(side, false)
}

func (b *Board) setLaser(side calibration.Side, on bool) error {
	n, err := laserIndex(side)
	if err != nil {
		return err
	}
	code := "M70"
	if on {
		code = "M71"
	}
	if err := b.exec(fmt.Sprintf("%sT%d", code, n)); err != nil {
		return err
	}
	b.mu.Lock()
	b.lasers[n-1] = on
	b.mu.Unlock()
	return nil
}

// SetRelativePosition queues a turntable move of deg degrees. The move runs
// on CommitMove.
func (b *Board) SetRelativePosition(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return fmt.Errorf("%w: invalid move %v", ErrDevice, deg)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mux == nil {
		return ErrNotConnected
	}
	b.pending += deg
	return nil
}

// CommitMove moves the turntable to the accumulated target.
func (b *Board) CommitMove() error {
	b.mu.Lock()
	target := b.position + b.pending
	b.mu.Unlock()

	if err := b.exec("G1X" + formatDegrees(target)); err != nil {
		return err
	}
	b.mu.Lock()
	b.position, b.pending = target, 0
	b.mu.Unlock()
	return nil
}

// SetMotorSpeed sets the turntable feed rate.
func (b *Board) SetMotorSpeed(v int) error {
	if v <= 0 {
		return fmt.Errorf("%w: invalid motor speed %d", ErrDevice, v)
	}
	return b.exec("G1F" + strconv.Itoa(v))
}

// Enable energises the stepper motor.
func (b *Board) Enable() error {
	if err := b.exec("M17"); err != nil {
		return err
	}
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
	return nil
}

// Disable releases the stepper motor.
func (b *Board) Disable() error {
	if err := b.exec("M18"); err != nil {
		return err
	}
	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()
	return nil
}

// Status is the last state the board acknowledged.
type Status struct {
	Connected    bool    `json:"connected"`
	MotorEnabled bool    `json:"motor_enabled"`
	Position     float64 `json:"position"`
	LeftLaser    bool    `json:"left_laser"`
	RightLaser   bool    `json:"right_laser"`
}

func (b *Board) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Connected:    b.mux != nil,
		MotorEnabled: b.enabled,
		Position:     b.position,
		LeftLaser:    b.lasers[0],
		RightLaser:   b.lasers[1],
	}
}

// AttachAdminRoutes registers the board status and the serial console under
// /debug/. The console follows reconnects and answers 503 while the board
// is disconnected.
func (b *Board) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("board", "scanner board state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(b.Status())
	})

	console := func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		h := b.console
		b.mu.Unlock()
		if h == nil {
			http.Error(w, "board not connected", http.StatusServiceUnavailable)
			return
		}
		h.ServeHTTP(w, r)
	}
	debug.HandleFunc("send-command", "send a G-code command to the scanner board", console)
	debug.HandleSilentFunc("send-command-api", console)
	debug.HandleSilentFunc("tail", console)
}

// formatDegrees renders a position with at most four decimals so that
// accumulated float error never reaches the wire.
func formatDegrees(v float64) string {
	v = math.Round(v*1e4) / 1e4
	if v == 0 {
		v = 0 // normalise -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
