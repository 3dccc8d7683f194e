// Package sim is a software stand-in for the scanner hardware: a board that
// speaks the serial G-code protocol and a camera that renders laser lines
// from the board's state. It backs the -dev mode of the CLI and end-to-end
// tests.
package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/device"
	"github.com/banshee-data/laserscan/internal/serialmux"
)

// Rig is the simulated turntable, lasers and camera.
type Rig struct {
	mu       sync.Mutex
	enabled  bool
	speed    int
	position float64
	lasers   [2]bool
	commands []string
	faults   map[string]string
	opens    int
}

// NewRig returns a rig at rest with the motor disabled and lasers off.
func NewRig() *Rig {
	return &Rig{faults: make(map[string]string)}
}

// Opener returns a device.Opener that connects to this rig. Every call
// returns a fresh link, as reopening a real port would.
func (r *Rig) Opener() device.Opener {
	return func() (serialmux.SerialMuxInterface, error) {
		r.mu.Lock()
		r.opens++
		r.mu.Unlock()
		port := serialmux.NewTestableSerialPort()
		port.Responder = r.handle
		port.AddReadData([]byte("Horus 0.2 ['$' for help]\n"))
		return serialmux.NewSerialMux(port), nil
	}
}

// FailCommand makes every command starting with prefix answer with an
// error line. An empty reason clears the fault.
func (r *Rig) FailCommand(prefix, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == "" {
		delete(r.faults, prefix)
		return
	}
	r.faults[prefix] = reason
}

// handle executes one G-code line and returns the firmware reply.
func (r *Rig) handle(line string) string {
	cmd := strings.ToUpper(strings.TrimSpace(line))
	if cmd == "" {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	for prefix, reason := range r.faults {
		if strings.HasPrefix(cmd, prefix) {
			return "error: " + reason
		}
	}

	switch {
	case cmd == "M17":
		r.enabled = true
	case cmd == "M18":
		r.enabled = false
	case strings.HasPrefix(cmd, "M70T"), strings.HasPrefix(cmd, "M71T"):
		n, err := strconv.Atoi(cmd[4:])
		if err != nil || n < 1 || n > 2 {
			return "error: bad laser index"
		}
		r.lasers[n-1] = strings.HasPrefix(cmd, "M71")
	case strings.HasPrefix(cmd, "G1F"):
		v, err := strconv.Atoi(cmd[3:])
		if err != nil || v <= 0 {
			return "error: bad feed rate"
		}
		r.speed = v
	case strings.HasPrefix(cmd, "G1X"):
		v, err := strconv.ParseFloat(cmd[3:], 64)
		if err != nil || math.IsNaN(v) {
			return "error: bad position"
		}
		if r.enabled {
			r.position = v
		}
	default:
		return fmt.Sprintf("error: unknown command %q", cmd)
	}
	return "ok"
}

// State is a copy of the rig's mechanical state.
type State struct {
	Enabled  bool
	Speed    int
	Position float64
	Left     bool
	Right    bool
	Opens    int
}

func (r *Rig) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Enabled:  r.enabled,
		Speed:    r.speed,
		Position: r.position,
		Left:     r.lasers[0],
		Right:    r.lasers[1],
		Opens:    r.opens,
	}
}

// Commands returns every command received, in order.
func (r *Rig) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *Rig) lit(side calibration.Side) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lasers[side]
}

func (r *Rig) angle() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}
