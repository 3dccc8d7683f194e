package scanner

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/camera"
	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/frame"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/timeutil"
)

var (
	// ErrNoCalibration is returned by Start when no lookup is installed.
	ErrNoCalibration = errors.New("no calibration loaded")
	// ErrNotConnected is returned by Start before Connect.
	ErrNotConnected = errors.New("scanner not connected")
	// ErrAlreadyRunning is returned by Start during a scan.
	ErrAlreadyRunning = errors.New("scan already running")
	// ErrNotRunning is returned by Pause and Resume outside a scan.
	ErrNotRunning = errors.New("no scan running")
	// ErrStopTimeout is returned by Stop when the loops did not exit in time.
	// The hardware has been forced to a safe state regardless.
	ErrStopTimeout = errors.New("scan loops did not stop in time")
	// ErrNoFrame is returned by Preview before any frame was processed.
	ErrNoFrame = errors.New("no frame processed yet")
)

// Device is the board driving the turntable and lasers.
type Device interface {
	Connect() error
	Disconnect() error
	Enable() error
	Disable() error
	SetMotorSpeed(v int) error
	SetRelativePosition(deg float64) error
	CommitMove() error
	SetLaserOn(side calibration.Side) error
	SetLaserOff(side calibration.Side) error
}

// State is the scan lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Result is one processed frame offered to the external consumer.
type Result struct {
	Session string
	cloud.Batch
}

// Session describes one scan from Start until both loops have exited.
type Session struct {
	ID       string
	Started  time.Time
	Finished time.Time // zero until the scan ends
	Settings config.Snapshot
	Points   int
	Theta    float64
	Err      error
}

// Options tune the pipeline. Zero values select the defaults.
type Options struct {
	FrameQueueSize  int
	ResultQueueSize int
	StopTimeout     time.Duration
	MotorIdle       time.Duration // per-step idle when the motor is not moved
	PausePoll       time.Duration
	FlushAmbient    int // frames discarded before the ambient capture
	FlushLaser      int // frames discarded before each laser capture
	Clock           timeutil.Clock

	// OnStart is called synchronously by Start before the loops run.
	OnStart func(Session)
	// OnStop is called once both loops have exited.
	OnStop func(Session)
}

// OptionsFromConfig copies the pipeline settings of cfg.
func OptionsFromConfig(cfg *config.ScanConfig) Options {
	return Options{
		FrameQueueSize:  cfg.GetFrameQueueSize(),
		ResultQueueSize: cfg.GetResultQueueSize(),
		StopTimeout:     cfg.GetStopTimeout(),
		MotorIdle:       cfg.GetMotorIdle(),
		PausePoll:       cfg.GetPausePoll(),
	}
}

func (o Options) withDefaults() Options {
	if o.FrameQueueSize <= 0 {
		o.FrameQueueSize = config.DefaultFrameQueueSize
	}
	if o.ResultQueueSize <= 0 {
		o.ResultQueueSize = config.DefaultResultQueueSize
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = config.DefaultStopTimeout
	}
	if o.MotorIdle < 0 {
		o.MotorIdle = 0
	} else if o.MotorIdle == 0 {
		o.MotorIdle = config.DefaultMotorIdle
	}
	if o.PausePoll <= 0 {
		o.PausePoll = config.DefaultPausePoll
	}
	if o.FlushAmbient <= 0 {
		o.FlushAmbient = 2
	}
	if o.FlushLaser <= 0 {
		o.FlushLaser = 1
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Scanner is one scanning station. All methods are safe for concurrent use.
type Scanner struct {
	cam      camera.Camera
	dev      Device
	settings *config.Settings
	opts     Options
	acc      *cloud.Accumulator
	results  chan Result

	paused  atomic.Bool
	theta   atomic.Uint64 // float64 bits
	dropped atomic.Uint64

	mu        sync.Mutex
	lookups   calibration.LookupSet
	connected bool
	state     State
	run       *run
	lastErr   error
	session   Session

	previewMu sync.RWMutex
	preview   previewFrame

	// processHook, when set, runs before each frame is processed.
	processHook func(frame.Pair)
}

type previewFrame struct {
	side calibration.Side
	ext  *frame.Extraction
}

// run is the per-scan shared state of the two loops. stop asks the loops
// to finish after draining queued frames; abort is closed only when Stop
// gives up waiting, and releases loops blocked on a full queue.
type run struct {
	id        string
	frames    chan frame.Pair
	stop      chan struct{}
	stopOnce  sync.Once
	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

func (r *run) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) teardown() {
	r.requestStop()
	r.abortOnce.Do(func() { close(r.abort) })
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// New returns an idle scanner. lookups may be empty and installed later
// with SetLookups.
func New(cam camera.Camera, dev Device, settings *config.Settings, lookups calibration.LookupSet, opts Options) *Scanner {
	if settings == nil {
		settings = config.NewSettings(nil)
	}
	opts = opts.withDefaults()
	return &Scanner{
		cam:      cam,
		dev:      dev,
		settings: settings,
		opts:     opts,
		acc:      cloud.NewAccumulator(),
		results:  make(chan Result, opts.ResultQueueSize),
		lookups:  lookups,
	}
}

// Settings returns the live settings the loops read every iteration.
func (s *Scanner) Settings() *config.Settings { return s.settings }

// SetLookups installs a new calibration. It is refused during a scan.
func (s *Scanner) SetLookups(l calibration.LookupSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running || s.state == Paused {
		return ErrAlreadyRunning
	}
	s.lookups = l
	return nil
}

// Connect connects the camera, then the board. If the board fails the
// camera is disconnected again so no half-connected state remains.
func (s *Scanner) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.cam.Connect(); err != nil {
		return fmt.Errorf("connect camera: %w", err)
	}
	if err := s.dev.Connect(); err != nil {
		if cerr := s.cam.Disconnect(); cerr != nil {
			monitoring.Logf("scanner: camera rollback failed: %v", cerr)
		}
		return fmt.Errorf("connect device: %w", err)
	}
	s.connected = true
	monitoring.Logf("scanner: connected")
	return nil
}

// Disconnect stops any scan, then releases the board and camera.
func (s *Scanner) Disconnect() error {
	stopErr := s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return stopErr
	}
	s.connected = false
	s.makeSafe()
	devErr := s.dev.Disconnect()
	camErr := s.cam.Disconnect()
	monitoring.Logf("scanner: disconnected")
	return errors.Join(stopErr, devErr, camErr)
}

// Connected reports whether Connect succeeded.
func (s *Scanner) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Start begins a new scan: theta and the cloud are reset and both loops are
// spawned.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == Running || s.state == Paused:
		return ErrAlreadyRunning
	case !s.connected:
		return ErrNotConnected
	case s.lookups.Left == nil:
		return ErrNoCalibration
	}

	s.acc.Reset()
	s.setTheta(0)
	s.paused.Store(false)
	s.dropped.Store(0)
	s.lastErr = nil

	r := &run{
		id:     uuid.NewString(),
		frames: make(chan frame.Pair, s.opts.FrameQueueSize),
		stop:   make(chan struct{}),
		abort:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.run = r
	s.state = Running
	s.session = Session{ID: r.id, Started: s.opts.Clock.Now(), Settings: s.settings.Snapshot()}
	if s.opts.OnStart != nil {
		s.opts.OnStart(s.session)
	}

	lookups := s.lookups
	captureDone := make(chan struct{})
	processDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		s.capture(r)
	}()
	go func() {
		defer close(processDone)
		s.process(r, lookups)
	}()
	go s.supervise(r, captureDone, processDone)

	monitoring.Logf("scanner: scan %s started", r.id)
	return nil
}

// supervise moves the scanner to Stopped once both loops have exited.
func (s *Scanner) supervise(r *run, captureDone, processDone <-chan struct{}) {
	<-captureDone
	<-processDone

	s.mu.Lock()
	if s.run == r {
		s.state = Stopped
		s.paused.Store(false)
	}
	s.session.Finished = s.opts.Clock.Now()
	s.session.Points = s.acc.Len()
	s.session.Theta = s.Theta()
	s.session.Err = s.lastErr
	sess := s.session
	s.mu.Unlock()

	if s.opts.OnStop != nil {
		s.opts.OnStop(sess)
	}
	if sess.Err != nil {
		monitoring.Logf("scanner: scan %s failed after %d points: %v", r.id, sess.Points, sess.Err)
	} else {
		monitoring.Logf("scanner: scan %s finished with %d points, theta %.2f", r.id, sess.Points, sess.Theta)
	}
	close(r.done)
}

// Pause suspends both loops at the top of their next iteration.
func (s *Scanner) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return ErrNotRunning
	}
	s.paused.Store(true)
	s.state = Paused
	return nil
}

// Resume continues a paused scan.
func (s *Scanner) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return ErrNotRunning
	}
	s.paused.Store(false)
	s.state = Running
	return nil
}

// Stop ends the scan and waits for both loops. Frames already captured are
// still processed and published. If the loops do not exit within the stop
// timeout, the run is torn down: lasers and motor are switched off, loops
// blocked on a full queue give up, and ErrStopTimeout is returned.
// Stopping an idle scanner is a no-op.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	r.requestStop()

	select {
	case <-r.done:
		return nil
	case <-s.opts.Clock.After(s.opts.StopTimeout):
	}

	monitoring.Logf("scanner: scan %s did not stop within %s; forcing hardware off", r.id, s.opts.StopTimeout)
	r.teardown()
	s.makeSafe()
	return ErrStopTimeout
}

// makeSafe switches off both lasers and the motor, logging failures.
func (s *Scanner) makeSafe() {
	for _, side := range []calibration.Side{calibration.LeftLaser, calibration.RightLaser} {
		if err := s.dev.SetLaserOff(side); err != nil {
			monitoring.Logf("scanner: %s laser off: %v", side, err)
		}
	}
	if err := s.dev.Disable(); err != nil {
		monitoring.Logf("scanner: motor disable: %v", err)
	}
}

// Done is closed when the current scan has fully stopped. Before the first
// scan it returns a closed channel.
func (s *Scanner) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.run.done
}

// Results is the bounded queue of processed frames, in processing order.
// It is shared by all scans and never closed.
func (s *Scanner) Results() <-chan Result { return s.results }

// Snapshot returns the point cloud accumulated so far.
func (s *Scanner) Snapshot() cloud.Cloud { return s.acc.Snapshot() }

// State returns the lifecycle state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Theta returns the turntable angle reached by the capture loop.
func (s *Scanner) Theta() float64 {
	return math.Float64frombits(s.theta.Load())
}

func (s *Scanner) setTheta(v float64) { s.theta.Store(math.Float64bits(v)) }

// Err returns the error that ended the last scan, if any.
func (s *Scanner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Scanner) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		s.lastErr = err
	}
}

// DroppedResults counts batches that were never published because Stop
// timed out while the result queue was full. Their points are still in the
// cloud.
func (s *Scanner) DroppedResults() uint64 { return s.dropped.Load() }

// Session returns the current or last scan session.
func (s *Scanner) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.session
	if sess.Finished.IsZero() {
		sess.Points = s.acc.Len()
		sess.Theta = s.Theta()
	}
	return sess
}

// Preview returns an intermediate image of the most recently processed
// frame and the laser it was taken with.
func (s *Scanner) Preview(kind frame.Kind) (image.Image, calibration.Side, error) {
	s.previewMu.RLock()
	defer s.previewMu.RUnlock()
	if s.preview.ext == nil {
		return nil, 0, ErrNoFrame
	}
	img := s.preview.ext.Image(kind)
	if img == nil {
		return nil, 0, fmt.Errorf("unknown image kind %v", kind)
	}
	return img, s.preview.side, nil
}

// Status is a point-in-time summary for reporting.
type Status struct {
	State     string  `json:"state"`
	Connected bool    `json:"connected"`
	Session   string  `json:"session,omitempty"`
	Theta     float64 `json:"theta"`
	Points    int     `json:"points"`
	Dropped   uint64  `json:"dropped_results"`
	Error     string  `json:"error,omitempty"`
}

func (s *Scanner) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.state.String(),
		Connected: s.connected,
		Session:   s.session.ID,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.mu.Unlock()
	st.Theta = s.Theta()
	st.Points = s.acc.Len()
	st.Dropped = s.DroppedResults()
	return st
}
